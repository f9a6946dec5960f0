// Package classify labels OCR text with a document type, language and supplier guess
// using the cheap chat model.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

// DefaultMaxChars caps the OCR text sent to the model.
const DefaultMaxChars = 4000

// ErrUnavailable marks a classification that could not reach the model. The returned
// result is still usable (unknown) but must not be checkpointed.
var ErrUnavailable = errors.New("classifier unavailable")

const systemPrompt = `You label scanned business documents. Answer ONLY with a JSON object:
{"document_type": "invoice" | "receipt" | "credit_note" | "quote" | "delivery_note" | "other",
 "language": ISO-639-1 code,
 "supplier_guess": name of the issuing company or "",
 "confidence": number between 0 and 1}
Spanish "factura" is an invoice. Do not add commentary.`

type Classifier struct {
	chat     llm.ChatCompleter
	maxChars int
	logger   *slog.Logger
}

func NewClassifier(chat llm.ChatCompleter, maxChars int, logger *slog.Logger) *Classifier {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{chat: chat, maxChars: maxChars, logger: logger}
}

// answerSchema is the shape a classification answer must have before it is decoded.
var answerSchema = mustCompile(map[string]any{
	"type":     "object",
	"required": []string{"document_type"},
	"properties": map[string]any{
		"document_type":  map[string]any{"type": "string"},
		"language":       map[string]any{"type": []string{"string", "null"}},
		"supplier_guess": map[string]any{"type": []string{"string", "null"}},
		"confidence":     map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1},
	},
})

func mustCompile(schema map[string]any) *jsonschema.Schema {
	s, err := llm.CompileSchema("classification.json", schema)
	if err != nil {
		panic(err)
	}
	return s
}

type modelAnswer struct {
	DocumentType  string   `json:"document_type"`
	Language      string   `json:"language"`
	SupplierGuess string   `json:"supplier_guess"`
	Confidence    *float64 `json:"confidence"`
}

// Classify never fails on a bad model answer; it degrades to an unknown label holding the
// raw text. Empty OCR text short-circuits without a model call.
func (c *Classifier) Classify(ctx context.Context, ocr entity.OCRResult) (entity.ClassificationResult, error) {
	logger := common.LoggerFrom(ctx, c.logger)

	text := strings.TrimSpace(ocr.Text)
	if text == "" {
		logger.Info("classify.skip_empty_text")
		return entity.UnknownClassification(""), nil
	}
	text = truncateRunes(text, c.maxChars)

	start := time.Now()
	raw, err := c.chat.Complete(ctx, systemPrompt, "Document text:\n"+text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entity.ClassificationResult{}, ctxErr
		}
		logger.Warn("classify.model_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		res := entity.UnknownClassification("")
		res.Degraded = true
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res, perr := parseAnswer(raw)
	if perr != nil {
		logger.Warn("classify.parse_failed", "error", perr, "raw", truncateRunes(raw, 512))
		res = entity.UnknownClassification(raw)
		res.Degraded = true
		res.ProviderID = c.chat.Model()
		return res, nil
	}
	res.ProviderID = c.chat.Model()

	logger.Info("classify.ok",
		"document_type", res.DocumentType,
		"language", res.Language,
		"supplier_guess", res.SupplierGuess,
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func parseAnswer(raw string) (entity.ClassificationResult, error) {
	body := []byte(llm.StripCodeFences(raw))
	if err := llm.ValidateJSON(answerSchema, body); err != nil {
		return entity.ClassificationResult{}, err
	}
	var ans modelAnswer
	if err := json.Unmarshal(body, &ans); err != nil {
		return entity.ClassificationResult{}, err
	}
	docType := strings.ToLower(strings.TrimSpace(ans.DocumentType))
	if docType == "" {
		return entity.ClassificationResult{}, errors.New("missing document_type")
	}
	conf := 0.0
	if ans.Confidence != nil {
		conf = *ans.Confidence
	}
	return entity.ClassificationResult{
		DocumentType:  docType,
		Language:      strings.ToLower(strings.TrimSpace(ans.Language)),
		SupplierGuess: strings.TrimSpace(ans.SupplierGuess),
		Confidence:    conf,
		RawPayload:    raw,
	}, nil
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
