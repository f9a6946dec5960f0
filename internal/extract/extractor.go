package extract

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

// Tiers binds each tier to a chat model.
type Tiers struct {
	Cheap     llm.ChatCompleter
	Expensive llm.ChatCompleter
}

type Options struct {
	CacheTTL  time.Duration
	CacheSize int
}

// Extractor implements the tiered invoice extraction. Every failure, from transport to
// an unparsable amount, is reported as common.ErrExtractionFailed; cancellation is
// returned as the context error.
type Extractor struct {
	tiers  Tiers
	schema *jsonschema.Schema
	cache  *responseCache
	logger *slog.Logger
}

func NewExtractor(tiers Tiers, opts Options, logger *slog.Logger) (*Extractor, error) {
	if tiers.Cheap == nil {
		return nil, errors.New("extract: cheap tier is required")
	}
	if tiers.Expensive == nil {
		tiers.Expensive = tiers.Cheap
	}
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := llm.CompileSchema("invoice.json", invoiceJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return &Extractor{
		tiers:  tiers,
		schema: schema,
		cache:  newResponseCache(opts.CacheSize, opts.CacheTTL),
		logger: logger,
	}, nil
}

func (e *Extractor) Extract(ctx context.Context, req Request) (entity.ExtractionResult, error) {
	tier := req.Tier()
	logger := common.LoggerFrom(ctx, e.logger).With("tier", tier)

	if strings.TrimSpace(req.OCRText) == "" {
		logger.Warn("extract.empty_text")
		return entity.ExtractionResult{}, common.ExtractionFailed("no OCR text to extract from", nil)
	}
	if cached, ok := e.cache.get(req.CacheKey, tier); ok {
		logger.Info("extract.cache_hit", "invoice_number", cached.InvoiceNumber)
		return cached, nil
	}

	chat := e.tiers.Cheap
	if tier == TierExpensive {
		chat = e.tiers.Expensive
	}

	start := time.Now()
	logger.Info("extract.start", "model", chat.Model(), "text_len", len(req.OCRText))

	raw, err := chat.Complete(ctx, buildSystemPrompt(tier), buildUserPrompt(req.OCRText))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entity.ExtractionResult{}, ctxErr
		}
		logger.Error("extract.model_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return entity.ExtractionResult{}, common.ExtractionFailed("model call failed", err)
	}

	res, err := e.decode(raw)
	if err != nil {
		logger.Error("extract.decode_failed", "error", err, "content", truncate(raw, 1024))
		return entity.ExtractionResult{}, common.ExtractionFailed("unparsable model answer", err)
	}

	e.cache.put(req.CacheKey, tier, res)
	logger.Info("extract.ok",
		"invoice_number", res.InvoiceNumber,
		"supplier", res.SupplierName,
		"total", res.TotalAmount.String(),
		"currency", res.Currency,
		"lines", len(res.Lines),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) decode(raw string) (entity.ExtractionResult, error) {
	content := []byte(llm.StripCodeFences(raw))
	if err := llm.ValidateJSON(e.schema, content); err != nil {
		return entity.ExtractionResult{}, err
	}
	var w wireInvoice
	if err := json.Unmarshal(content, &w); err != nil {
		return entity.ExtractionResult{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return w.toEntity()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
