package ocr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t1240\t1754\t-1\t\n" +
	"2\t1\t1\t0\t0\t0\t10\t10\t500\t40\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t120\t20\t96\tFACTURA\n" +
	"5\t1\t1\t1\t1\t2\t140\t10\t80\t20\t90\tF-2024-001\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t60\t20\t88\tTotal:\n" +
	"5\t1\t1\t1\t2\t2\t80\t40\t90\t22\t86\t121,00\n" +
	"5\t1\t1\t1\t2\t3\t180\t40\t40\t20\t-1\t\n" +
	"5\t1\t1\t1\t2\t4\t230\t40\t30\t20\t80\tEUR\n"

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string][]byte
	fail    map[string]error
	// renders is the number of PNG pages pdftoppm "produces"
	renders int
}

func (f *fakeRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if err := f.fail[name]; err != nil {
		return nil, []byte(name + " exploded"), err
	}
	if name == "pdftoppm" {
		prefix := args[len(args)-1]
		for i := 1; i <= f.renders; i++ {
			_ = os.WriteFile(prefix+"-"+string(rune('0'+i))+".png", []byte("png"), 0o644)
		}
	}
	return f.outputs[name], nil, nil
}

func (f *fakeRunner) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func touch(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("not really a document"), 0o644))
	return p
}

func TestExtract_Image(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{"tesseract": []byte(sampleTSV)}}
	ex := NewExtractor(Config{}, quietLogger()).WithRunner(r)

	res, err := ex.Extract(context.Background(), touch(t, "scan.PNG"))
	require.NoError(t, err)

	assert.Equal(t, "FACTURA F-2024-001\nTotal: 121,00 EUR", res.Text)
	assert.Equal(t, constants.IMAGE, res.SourceType)
	assert.Equal(t, "image-ocr", res.Method)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, 1240, res.Pages[0].Width)
	require.Len(t, res.Pages[0].Blocks, 2)
	assert.Equal(t, 10, res.Pages[0].Blocks[1].X)
	assert.Equal(t, 250, res.Pages[0].Blocks[1].Width)
	assert.Greater(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, 1.0)
	assert.Equal(t, 1, r.count("tesseract"), "one tesseract pass per image")
}

func TestExtract_EmptyImageHasZeroConfidence(t *testing.T) {
	header := strings.SplitN(sampleTSV, "\n", 2)[0] + "\n"
	r := &fakeRunner{outputs: map[string][]byte{"tesseract": []byte(header)}}
	ex := NewExtractor(Config{}, quietLogger()).WithRunner(r)

	res, err := ex.Extract(context.Background(), touch(t, "blank.jpg"))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Confidence)
}

func TestExtract_PDFTextLayer(t *testing.T) {
	text := "FACTURA Nº 2024/117\nFecha: 15/03/2024\nNIF: B12345678\nBase imponible 100,00 €\nIVA 21% 21,00 €\nTotal 121,00 €\n\f" +
		"Condiciones de pago: 30 días\n"
	r := &fakeRunner{outputs: map[string][]byte{"pdftotext": []byte(text)}}
	ex := NewExtractor(Config{}, quietLogger()).WithRunner(r)

	res, err := ex.Extract(context.Background(), touch(t, "invoice.pdf"))
	require.NoError(t, err)

	assert.Equal(t, "pdf-text", res.Method)
	assert.Contains(t, res.Text, "Total 121,00 €")
	assert.Len(t, res.Pages, 2)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
	assert.Zero(t, r.count("pdftoppm"))
	assert.NotEmpty(t, res.Warnings, "pdfcpu cannot count pages of a fake pdf")
}

func TestExtract_PDFRasterFallback(t *testing.T) {
	r := &fakeRunner{
		outputs: map[string][]byte{"pdftotext": []byte("  \n"), "tesseract": []byte(sampleTSV)},
		renders: 3,
	}
	ex := NewExtractor(Config{MaxPages: 2}, quietLogger()).WithRunner(r)

	res, err := ex.Extract(context.Background(), touch(t, "scanned.pdf"))
	require.NoError(t, err)

	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Len(t, res.Pages, 2)
	assert.Equal(t, 2, r.count("tesseract"))
	assert.Contains(t, res.Text, "\f")
	assert.Greater(t, res.Confidence, 0.0)
}

func TestExtract_Unreadable(t *testing.T) {
	ex := NewExtractor(Config{}, quietLogger()).WithRunner(&fakeRunner{})

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.pdf")},
		{"unsupported extension", touch(t, "notes.docx")},
		{"directory", t.TempDir()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Extract(context.Background(), tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrDocumentUnreadable))
		})
	}
}

func TestExtract_ToolFailureIsUnreadable(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{"tesseract": errors.New("exit status 1")}}
	ex := NewExtractor(Config{}, quietLogger()).WithRunner(r)

	_, err := ex.Extract(context.Background(), touch(t, "scan.tiff"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDocumentUnreadable)
}

func TestExtract_CanceledContext(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{"tesseract": context.Canceled}}
	ex := NewExtractor(Config{}, quietLogger()).WithRunner(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Extract(ctx, touch(t, "scan.jpeg"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, common.ErrDocumentUnreadable)
}

func TestExtract_HEICUsesCache(t *testing.T) {
	cache := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cache, "abc123.png"), []byte("png"), 0o644))

	r := &fakeRunner{outputs: map[string][]byte{"tesseract": []byte(sampleTSV)}}
	ex := NewExtractor(Config{ArtifactCacheDir: cache, HeicConverter: "magick"}, quietLogger()).WithRunner(r)

	ctx := common.WithContentHash(context.Background(), "abc123")
	_, err := ex.Extract(ctx, touch(t, "photo.heic"))
	require.NoError(t, err)

	assert.Zero(t, r.count("magick"))
	require.Equal(t, 1, r.count("tesseract"))
	assert.Equal(t, filepath.Join(cache, "abc123.png"), r.calls[0].args[0])
}

func TestHeuristicConfidence(t *testing.T) {
	assert.Zero(t, heuristicConfidence("   "))
	low := heuristicConfidence("hello")
	high := heuristicConfidence("Factura 12/03/2024 Total 121,00 EUR IVA 21%")
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 1.0)
}

func TestNormalize(t *testing.T) {
	in := "FACTURA\t\t001\r\n-----\r\n\r\n\r\n\r\nTotal    121,00   \n"
	assert.Equal(t, "FACTURA 001\n\nTotal 121,00", Normalize(in))
}
