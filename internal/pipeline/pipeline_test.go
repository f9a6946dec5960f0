package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/classify"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository/memory"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeOCR struct {
	mu     sync.Mutex
	result entity.OCRResult
	err    error
	calls  int
	hook   func()
}

func (f *fakeOCR) Extract(ctx context.Context, _ string) (entity.OCRResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
	}
	return f.result, f.err
}

func (f *fakeOCR) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClassifier struct {
	result entity.ClassificationResult
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(context.Context, entity.OCRResult) (entity.ClassificationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeExtractor struct {
	mu             sync.Mutex
	cheap          entity.ExtractionResult
	expensive      entity.ExtractionResult
	err            error
	cheapCalls     int
	expensiveCalls int
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (entity.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.HighPrecision {
		f.expensiveCalls++
		return f.expensive, f.err
	}
	f.cheapCalls++
	return f.cheap, f.err
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func goodExtraction(number string) entity.ExtractionResult {
	return entity.ExtractionResult{
		InvoiceNumber:  number,
		SupplierName:   "Suministros Levante SL",
		SupplierTaxID:  "B12345678",
		IssueDate:      "15 DE ENERO DE 2024",
		DueDate:        "2024-02-15",
		TotalAmount:    decimal.RequireFromString("121"),
		TaxAmount:      dec("21"),
		TaxRate:        dec("21"),
		SubtotalAmount: dec("100"),
		Currency:       "EUR",
		Lines: []entity.ExtractionLine{{
			LineNumber:  1,
			Description: "Tornillería",
			Quantity:    decimal.RequireFromString("2"),
			UnitPrice:   decimal.RequireFromString("50"),
			LineTotal:   decimal.RequireFromString("100"),
			TaxRate:     dec("21"),
		}},
	}
}

func doubtfulExtraction(number string) entity.ExtractionResult {
	e := goodExtraction(number)
	e.TaxAmount = dec("30")
	return e
}

type harness struct {
	ocr        *fakeOCR
	classifier *fakeClassifier
	extractor  *fakeExtractor
	snapshots  *memory.SnapshotStore
	invoices   *memory.InvoiceStore
	cfg        Config
}

func newHarness(ocrConfidence float64) *harness {
	return &harness{
		ocr: &fakeOCR{result: entity.OCRResult{Text: "FACTURA F-1 total 121,00", Confidence: ocrConfidence}},
		classifier: &fakeClassifier{result: entity.ClassificationResult{
			DocumentType: constants.DocumentTypeInvoice, Language: "es", SupplierGuess: "Levante", Confidence: 0.9,
		}},
		extractor: &fakeExtractor{cheap: goodExtraction("F-1"), expensive: goodExtraction("F-1")},
		snapshots: memory.NewSnapshotStore(),
		invoices:  memory.NewInvoiceStore(),
		cfg:       DefaultConfig(),
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(h.cfg, Deps{
		Snapshots:  h.snapshots,
		OCR:        h.ocr,
		Classifier: h.classifier,
		Extractor:  h.extractor,
		Invoices:   h.invoices,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return p
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func storedSnapshot(t *testing.T, h *harness, path string) *entity.ProcessingSnapshot {
	t.Helper()
	hash, err := HashFile(path)
	require.NoError(t, err)
	snap, err := h.snapshots.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, snap)
	return snap
}

func TestRun_EndToEndPersistsWithoutFallback(t *testing.T) {
	h := newHarness(0.95)
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, KindPersisted, res.Kind)
	assert.False(t, res.Escalated)
	assert.Equal(t, constants.ValidationOK, res.Validation)
	assert.Zero(t, h.extractor.expensiveCalls)

	inv, err := h.invoices.FindByInvoiceNumber(context.Background(), "F-1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, res.InvoiceID, inv.ID)
	assert.Empty(t, inv.Notes)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), inv.IssueDate)
	require.NotNil(t, inv.DueDate)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), *inv.DueDate)
	assert.Equal(t, fixedNow, inv.ReceivedDate)
	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(121)))
	assert.Equal(t, constants.OriginPipeline, inv.Origin)
	assert.Equal(t, path, inv.SourceFilePath)
	require.NotNil(t, inv.ExtractionConfidence)
	assert.InDelta(t, 0.95, *inv.ExtractionConfidence, 1e-9)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, inv.ID, inv.Lines[0].InvoiceID)

	snap := storedSnapshot(t, h, path)
	assert.True(t, snap.OCR.Completed())
	assert.True(t, snap.Classification.Completed())
	assert.True(t, snap.Extraction.Completed())
	assert.Equal(t, "invoice-v1", snap.Extraction.Payload.SchemaVersion)
	assert.Equal(t, snap.Extraction.Payload.Hash, snap.Validation.Payload.ExtractionHash)
	assert.False(t, snap.FallbackTriggered())
}

func TestRun_SecondRunSkipsStagesAndReportsDuplicate(t *testing.T) {
	h := newHarness(0.95)
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")
	p := h.pipeline(t)

	first := p.Run(context.Background(), path)
	require.NoError(t, first.Err)

	second := p.Run(context.Background(), path)
	assert.Equal(t, KindDuplicateInvoice, second.Kind)
	assert.ErrorIs(t, second.Err, common.ErrDuplicateInvoice)
	var se *StageError
	require.ErrorAs(t, second.Err, &se)
	assert.Equal(t, StagePersist, se.Stage)
	assert.Equal(t, path, se.Path)

	assert.Equal(t, 1, h.ocr.Calls())
	assert.Equal(t, 1, h.classifier.calls)
	assert.Equal(t, 1, h.extractor.cheapCalls)
	assert.Equal(t, first.SnapshotID, second.SnapshotID)
	assert.Equal(t, 1, h.snapshots.Len())
}

func TestRun_LowOCRConfidenceEscalatesOnce(t *testing.T) {
	h := newHarness(0.60)
	h.extractor.expensive = goodExtraction("F-1")
	path := writeDoc(t, t.TempDir(), "blurry.jpg", "blurry invoice")
	p := h.pipeline(t)

	res := p.Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.True(t, res.Escalated)
	assert.Equal(t, 1, h.extractor.expensiveCalls)
	assert.Contains(t, res.FallbackReason, "60%")
	assert.Equal(t, "OCR 60%", res.FallbackReason)

	snap := storedSnapshot(t, h, path)
	assert.True(t, snap.FallbackTriggered())
	assert.True(t, snap.Extraction.Payload.HighPrecision)

	// a rerun never escalates again
	h.invoices = memory.NewInvoiceStore()
	again := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, again.Err)
	assert.False(t, again.Escalated)
	assert.Equal(t, 1, h.extractor.expensiveCalls)
	assert.Equal(t, 1, h.extractor.cheapCalls)
}

func TestRun_DoubtfulEscalationPersistsWithNotes(t *testing.T) {
	h := newHarness(0.62)
	h.extractor.cheap = doubtfulExtraction("F-2")
	h.extractor.expensive = doubtfulExtraction("F-2")
	path := writeDoc(t, t.TempDir(), "f2.pdf", "invoice two")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.True(t, res.Escalated)
	assert.Equal(t, "OCR 62% | Validación dudosa", res.FallbackReason)
	assert.Equal(t, constants.ValidationDoubtful, res.Validation)
	require.NotEmpty(t, res.ValidationErrors)

	inv, err := h.invoices.FindByInvoiceNumber(context.Background(), "F-2")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, strings.Join(res.ValidationErrors, "\n"), inv.Notes)
}

func TestRun_EscalationFixesDoubtfulExtraction(t *testing.T) {
	h := newHarness(0.95)
	h.extractor.cheap = doubtfulExtraction("F-3")
	h.extractor.expensive = goodExtraction("F-3")
	path := writeDoc(t, t.TempDir(), "f3.pdf", "invoice three")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.True(t, res.Escalated)
	assert.Equal(t, reasonDoubtful, res.FallbackReason)
	assert.Equal(t, constants.ValidationOK, res.Validation)

	snap := storedSnapshot(t, h, path)
	assert.Equal(t, constants.ValidationOK, snap.ValidationStatus())
	assert.Equal(t, snap.Extraction.Payload.Hash, snap.Validation.Payload.ExtractionHash)

	inv, err := h.invoices.FindByInvoiceNumber(context.Background(), "F-3")
	require.NoError(t, err)
	assert.Empty(t, inv.Notes)
}

func TestRun_FallbackDisabled(t *testing.T) {
	h := newHarness(0.40)
	h.cfg.FallbackEnabled = false
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.False(t, res.Escalated)
	assert.Zero(t, h.extractor.expensiveCalls)
	assert.False(t, storedSnapshot(t, h, path).FallbackTriggered())
}

func TestRun_NonInvoiceContinues(t *testing.T) {
	h := newHarness(0.95)
	h.classifier.result = entity.ClassificationResult{DocumentType: "receipt", Language: "es"}
	path := writeDoc(t, t.TempDir(), "r.jpg", "receipt")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, KindPersisted, res.Kind)
}

func TestRun_ClassifierUnavailableIsNotCheckpointed(t *testing.T) {
	h := newHarness(0.95)
	unknown := entity.UnknownClassification("")
	unknown.Degraded = true
	h.classifier.result = unknown
	h.classifier.err = fmt.Errorf("%w: connection refused", classify.ErrUnavailable)
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.True(t, res.ClassificationDegraded)
	assert.False(t, storedSnapshot(t, h, path).Classification.Completed())

	h.invoices = memory.NewInvoiceStore()
	h.classifier.err = nil
	h.classifier.result = entity.ClassificationResult{DocumentType: constants.DocumentTypeInvoice}
	again := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, again.Err)
	assert.False(t, again.ClassificationDegraded)
	assert.Equal(t, 2, h.classifier.calls)
	assert.True(t, storedSnapshot(t, h, path).Classification.Completed())
}

func TestRun_DegradedParseIsCheckpointed(t *testing.T) {
	h := newHarness(0.95)
	unknown := entity.UnknownClassification("not json")
	unknown.Degraded = true
	h.classifier.result = unknown
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.True(t, res.ClassificationDegraded)

	snap := storedSnapshot(t, h, path)
	require.True(t, snap.Classification.Completed())
	assert.Equal(t, "not json", snap.Classification.Payload.RawPayload)
}

func TestRun_SupplierFallsBackToClassifierGuess(t *testing.T) {
	h := newHarness(0.95)
	e := goodExtraction("F-9")
	e.SupplierName = ""
	h.extractor.cheap = e
	path := writeDoc(t, t.TempDir(), "f9.pdf", "invoice nine")

	_, err := h.pipeline(t).ProcessDocument(context.Background(), path)
	require.NoError(t, err)
	inv, err := h.invoices.FindByInvoiceNumber(context.Background(), "F-9")
	require.NoError(t, err)
	assert.Equal(t, "Levante", inv.SupplierName)
}

func TestRun_UnparsableIssueDateUsesNow(t *testing.T) {
	h := newHarness(0.95)
	e := goodExtraction("F-4")
	e.IssueDate = "sometime last winter"
	h.extractor.cheap = e
	path := writeDoc(t, t.TempDir(), "f4.pdf", "invoice four")

	id, err := h.pipeline(t).ProcessDocument(context.Background(), path)
	require.NoError(t, err)
	inv, err := h.invoices.FindByInvoiceNumber(context.Background(), "F-4")
	require.NoError(t, err)
	assert.Equal(t, id, inv.ID)
	assert.Equal(t, fixedNow, inv.IssueDate)
}

func TestRun_SchemaVersionChangeForcesReextraction(t *testing.T) {
	h := newHarness(0.95)
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")
	require.NoError(t, h.pipeline(t).Run(context.Background(), path).Err)
	before := storedSnapshot(t, h, path)

	h.cfg.SchemaVersion = "invoice-v2"
	h.invoices = memory.NewInvoiceStore()
	e := goodExtraction("F-1")
	e.SupplierTaxID = "B87654321"
	h.extractor.cheap = e

	res := h.pipeline(t).Run(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, h.extractor.cheapCalls)
	assert.Equal(t, 1, h.ocr.Calls())

	after := storedSnapshot(t, h, path)
	assert.Equal(t, "invoice-v2", after.Extraction.Payload.SchemaVersion)
	assert.NotEqual(t, before.Extraction.Payload.Hash, after.Extraction.Payload.Hash)
	assert.Equal(t, after.Extraction.Payload.Hash, after.Validation.Payload.ExtractionHash)
}

func TestRun_ChangedContentAtSamePathCreatesNewSnapshot(t *testing.T) {
	h := newHarness(0.95)
	dir := t.TempDir()
	path := writeDoc(t, dir, "inbox.pdf", "first version")
	p := h.pipeline(t)

	first := p.Run(context.Background(), path)
	require.NoError(t, first.Err)

	writeDoc(t, dir, "inbox.pdf", "second version")
	h.extractor.cheap = goodExtraction("F-2")
	second := p.Run(context.Background(), path)
	require.NoError(t, second.Err)

	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, 2, h.snapshots.Len())
	assert.Equal(t, 2, h.ocr.Calls())
}

func TestRun_MissingFileIsUnreadable(t *testing.T) {
	h := newHarness(0.95)
	res := h.pipeline(t).Run(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Equal(t, KindDocumentUnreadable, res.Kind)
	assert.ErrorIs(t, res.Err, common.ErrDocumentUnreadable)
	assert.Zero(t, h.ocr.Calls())
	assert.Zero(t, h.snapshots.Len())
}

func TestRun_OCRFailureIsFatal(t *testing.T) {
	h := newHarness(0.95)
	h.ocr.err = common.Unreadable("x.pdf", errors.New("pdftotext: exit 1"))
	path := writeDoc(t, t.TempDir(), "x.pdf", "garbage")

	res := h.pipeline(t).Run(context.Background(), path)
	assert.Equal(t, KindDocumentUnreadable, res.Kind)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StageOCR, se.Stage)
	assert.Zero(t, h.classifier.calls)
	assert.False(t, storedSnapshot(t, h, path).OCR.Completed())
}

func TestRun_ExtractionFailureKeepsEarlierStages(t *testing.T) {
	h := newHarness(0.95)
	h.extractor.err = common.ExtractionFailed("model answer is not JSON", errors.New("bad"))
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")

	res := h.pipeline(t).Run(context.Background(), path)
	assert.Equal(t, KindExtractionFailed, res.Kind)
	assert.ErrorIs(t, res.Err, common.ErrExtractionFailed)

	snap := storedSnapshot(t, h, path)
	assert.True(t, snap.OCR.Completed())
	assert.True(t, snap.Classification.Completed())
	assert.False(t, snap.Extraction.Completed())

	_, err := h.pipeline(t).ProcessDocument(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, 1, h.ocr.Calls())
}

func TestRun_CancellationLeavesSnapshotUnchanged(t *testing.T) {
	h := newHarness(0.95)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ocr.hook = cancel
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")

	res := h.pipeline(t).Run(ctx, path)
	assert.Equal(t, KindFailed, res.Kind)
	assert.True(t, IsCanceled(res.Err))

	snap := storedSnapshot(t, h, path)
	assert.False(t, snap.OCR.Completed())
	assert.Zero(t, h.classifier.calls)

	// retry from the top works
	h.ocr.hook = nil
	require.NoError(t, h.pipeline(t).Run(context.Background(), path).Err)
	assert.True(t, storedSnapshot(t, h, path).OCR.Completed())
}

func TestRun_ConcurrentSameDocumentRunsOCROnce(t *testing.T) {
	h := newHarness(0.95)
	path := writeDoc(t, t.TempDir(), "f1.pdf", "invoice one")
	p := h.pipeline(t)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Run(context.Background(), path)
		}(i)
	}
	wg.Wait()

	persisted, duplicates := 0, 0
	for _, r := range results {
		switch r.Kind {
		case KindPersisted:
			persisted++
		case KindDuplicateInvoice:
			duplicates++
		}
	}
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 3, duplicates)
	assert.Equal(t, 1, h.ocr.Calls())
	assert.Equal(t, 1, h.snapshots.Len())
}

func TestNew_RequiresPorts(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{}, nil)
	require.Error(t, err)
}

func TestFallbackMeter(t *testing.T) {
	m := NewFallbackMeter(0.10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for i := 0; i < 20; i++ {
		m.Observe(i%4 == 0, logger)
	}
	st := m.Stats()
	assert.Equal(t, 20, st.Processed)
	assert.Equal(t, 5, st.Escalated)
	assert.InDelta(t, 0.25, st.Rate, 1e-9)
	assert.InDelta(t, 0.10, st.Target, 1e-9)
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	assert.Empty(t, k.locks)
}
