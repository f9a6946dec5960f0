package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/invoice-pipeline/internal/classify"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/langchain"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func openDB(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*repository.DB, error) {
	return repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
}

// newChat builds one rate-limited chat backend for model. The limiter is shared so the
// classifier and both extraction tiers draw from the same budget.
func newChat(cfg common.LLMConfig, model string, jsonMode bool, limiter *rate.Limiter, logger *slog.Logger) (llm.ChatCompleter, error) {
	var chat llm.ChatCompleter
	switch cfg.Provider {
	case "openai":
		chat = openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			JSONMode:    jsonMode,
			Retry:       common.RetryOptions{MaxAttempts: cfg.MaxRetries},
		}, logger)
	default:
		m, err := langchain.NewModel(langchain.Config{
			Provider:    cfg.Provider,
			Model:       model,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Temperature: float64(cfg.Temperature),
			JSONMode:    jsonMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		chat = m
	}
	return llm.WithRateLimit(chat, limiter), nil
}

// components is everything a command needs to run documents.
type components struct {
	db       *repository.DB
	invoices repository.InvoiceRepository
	pipeline *pipeline.Pipeline
}

func (c *components) Close(logger *slog.Logger) {
	if c.db != nil {
		c.db.Close(logger)
	}
}

func buildPipeline(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*components, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c := &components{db: db}
	if err := repository.Migrate(ctx, db, logger); err != nil {
		c.Close(logger)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	snapshots := repository.NewSnapshotRepository(db, logger)
	c.invoices = repository.NewInvoiceRepository(db, logger)

	ocrExtractor := ocr.NewExtractor(ocr.Config{
		TesseractLang:    cfg.OCR.TesseractLang,
		DPI:              cfg.OCR.DPI,
		MaxPages:         cfg.OCR.MaxPages,
		TessdataDir:      cfg.OCR.TessdataDir,
		HeicConverter:    cfg.OCR.HeicConverter,
		ArtifactCacheDir: cfg.OCR.ArtifactCacheDir,
	}, logger)

	limiter := llm.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	classifierChat, err := newChat(cfg.LLM, cfg.LLM.ClassifierModel, true, limiter, logger)
	if err != nil {
		c.Close(logger)
		return nil, fmt.Errorf("classifier model: %w", err)
	}
	cheap, err := newChat(cfg.LLM, cfg.LLM.CheapModel, true, limiter, logger)
	if err != nil {
		c.Close(logger)
		return nil, fmt.Errorf("cheap model: %w", err)
	}
	expensive, err := newChat(cfg.LLM, cfg.LLM.ExpensiveModel, true, limiter, logger)
	if err != nil {
		c.Close(logger)
		return nil, fmt.Errorf("expensive model: %w", err)
	}

	extractor, err := extract.NewExtractor(extract.Tiers{Cheap: cheap, Expensive: expensive},
		extract.Options{CacheTTL: cfg.LLM.CacheTTL}, logger)
	if err != nil {
		c.Close(logger)
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		OCRConfidenceThreshold: cfg.Pipeline.OCRConfidenceThreshold,
		TotalTolerance:         cfg.Pipeline.TotalTolerance,
		SchemaVersion:          cfg.Pipeline.SchemaVersion,
		FallbackEnabled:        cfg.Pipeline.FallbackEnabled,
		TargetFallbackRate:     cfg.Pipeline.TargetFallbackRate,
		Origin:                 cfg.Pipeline.Origin,
	}, pipeline.Deps{
		Snapshots:  snapshots,
		OCR:        ocrExtractor,
		Classifier: classify.NewClassifier(classifierChat, cfg.Pipeline.ClassifierMaxChars, logger),
		Extractor:  extractor,
		Invoices:   c.invoices,
	}, logger)
	if err != nil {
		c.Close(logger)
		return nil, err
	}
	c.pipeline = p
	return c, nil
}
