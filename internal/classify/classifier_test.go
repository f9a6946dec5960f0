package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

type fakeChat struct {
	answer string
	err    error
	calls  int
	user   string
}

func (f *fakeChat) Complete(_ context.Context, _, user string) (string, error) {
	f.calls++
	f.user = user
	return f.answer, f.err
}

func (f *fakeChat) Model() string { return "cheap-model" }

func newClassifier(chat *fakeChat, maxChars int) *Classifier {
	return NewClassifier(chat, maxChars, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClassify(t *testing.T) {
	chat := &fakeChat{answer: "```json\n{\"document_type\":\"Factura\",\"language\":\"ES\",\"supplier_guess\":\" Iberdrola \",\"confidence\":0.93}\n```"}
	res, err := newClassifier(chat, 0).Classify(context.Background(), entity.OCRResult{Text: "FACTURA 001"})
	require.NoError(t, err)

	assert.Equal(t, "factura", res.DocumentType)
	assert.True(t, res.IsInvoice())
	assert.Equal(t, "es", res.Language)
	assert.Equal(t, "Iberdrola", res.SupplierGuess)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	assert.Equal(t, "cheap-model", res.ProviderID)
	assert.False(t, res.Degraded)
	assert.NotEmpty(t, res.RawPayload)
}

func TestClassify_EmptyTextSkipsModel(t *testing.T) {
	chat := &fakeChat{}
	res, err := newClassifier(chat, 0).Classify(context.Background(), entity.OCRResult{Text: "  \n "})
	require.NoError(t, err)

	assert.Zero(t, chat.calls)
	assert.Equal(t, constants.DocumentTypeUnknown, res.DocumentType)
	assert.False(t, res.IsInvoice())
}

func TestClassify_TruncatesLongText(t *testing.T) {
	chat := &fakeChat{answer: `{"document_type":"invoice","language":"en"}`}
	long := strings.Repeat("ñ", 10_000)
	_, err := newClassifier(chat, 4000).Classify(context.Background(), entity.OCRResult{Text: long})
	require.NoError(t, err)

	body := strings.TrimPrefix(chat.user, "Document text:\n")
	assert.Equal(t, 4000, len([]rune(body)))
}

func TestClassify_UnparsableAnswerDegrades(t *testing.T) {
	for _, answer := range []string{"I think it's an invoice", `{"language":"es"}`, ""} {
		chat := &fakeChat{answer: answer}
		res, err := newClassifier(chat, 0).Classify(context.Background(), entity.OCRResult{Text: "x"})
		require.NoError(t, err, answer)

		assert.Equal(t, constants.DocumentTypeUnknown, res.DocumentType)
		assert.True(t, res.Degraded)
		assert.Equal(t, answer, res.RawPayload)
	}
}

func TestClassify_SchemaViolationDegrades(t *testing.T) {
	tests := []struct {
		name   string
		answer string
	}{
		{"numeric document type", `{"document_type":5}`},
		{"confidence above one", `{"document_type":"invoice","confidence":93}`},
		{"negative confidence", `{"document_type":"invoice","confidence":-0.2}`},
		{"language not a string", `{"document_type":"invoice","language":["es"]}`},
		{"not an object", `["invoice"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{answer: tt.answer}
			res, err := newClassifier(chat, 0).Classify(context.Background(), entity.OCRResult{Text: "x"})
			require.NoError(t, err)

			assert.Equal(t, constants.DocumentTypeUnknown, res.DocumentType)
			assert.True(t, res.Degraded)
			assert.Equal(t, tt.answer, res.RawPayload)
		})
	}
}

func TestClassify_NullOptionalFields(t *testing.T) {
	chat := &fakeChat{answer: `{"document_type":"invoice","language":null,"supplier_guess":null,"confidence":null}`}
	res, err := newClassifier(chat, 0).Classify(context.Background(), entity.OCRResult{Text: "x"})
	require.NoError(t, err)

	assert.True(t, res.IsInvoice())
	assert.False(t, res.Degraded)
	assert.Zero(t, res.Confidence)
}

func TestClassify_ModelErrorIsUnavailable(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	res, err := newClassifier(chat, 0).Classify(context.Background(), entity.OCRResult{Text: "x"})

	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, constants.DocumentTypeUnknown, res.DocumentType)
}

func TestClassify_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chat := &fakeChat{err: context.Canceled}
	_, err := newClassifier(chat, 0).Classify(ctx, entity.OCRResult{Text: "x"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
