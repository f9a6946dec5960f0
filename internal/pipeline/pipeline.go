// Package pipeline drives a document through OCR, classification, tiered extraction and
// validation, checkpointing each stage in a snapshot keyed by content hash, and persists the
// resulting invoice.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// Deps are the ports the pipeline runs against.
type Deps struct {
	Snapshots  SnapshotStore
	OCR        OCRExtractor
	Classifier Classifier
	Extractor  InvoiceExtractor
	Invoices   InvoiceStore
}

type Pipeline struct {
	cfg        Config
	snapshots  SnapshotStore
	ocr        OCRExtractor
	classifier Classifier
	extractor  InvoiceExtractor
	invoices   InvoiceStore
	logger     *slog.Logger

	locks *keyedMutex
	meter *FallbackMeter
	now   func() time.Time
}

func New(cfg Config, deps Deps, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Snapshots == nil:
		return nil, errors.New("pipeline: snapshot store is required")
	case deps.OCR == nil:
		return nil, errors.New("pipeline: OCR extractor is required")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: invoice extractor is required")
	case deps.Invoices == nil:
		return nil, errors.New("pipeline: invoice store is required")
	case cfg.SchemaVersion == "":
		return nil, errors.New("pipeline: schema version is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:        cfg,
		snapshots:  deps.Snapshots,
		ocr:        deps.OCR,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		invoices:   deps.Invoices,
		logger:     logger,
		locks:      newKeyedMutex(),
		meter:      NewFallbackMeter(cfg.TargetFallbackRate),
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// FallbackStats reports how often the expensive tier has been needed.
func (p *Pipeline) FallbackStats() FallbackStats { return p.meter.Stats() }

// ProcessDocument runs the pipeline and returns the persisted invoice ID.
func (p *Pipeline) ProcessDocument(ctx context.Context, path string) (uuid.UUID, error) {
	res := p.Run(ctx, path)
	if res.Err != nil {
		return uuid.Nil, res.Err
	}
	return res.InvoiceID, nil
}

// Run processes one document. Completed stages found in the snapshot are not re-run, so a
// failed or cancelled run can simply be repeated.
func (p *Pipeline) Run(ctx context.Context, path string) Result {
	start := p.now()
	res := Result{}

	err := p.run(ctx, path, &res)
	res.Err = err
	res.Kind = kindOf(err)

	logger := common.LoggerFrom(ctx, p.logger).With("path", path, "kind", res.Kind,
		"elapsed_ms", p.now().Sub(start).Milliseconds())
	switch {
	case err == nil:
		logger.Info("pipeline.persisted",
			"invoice_id", res.InvoiceID,
			"validation", res.Validation,
			"escalated", res.Escalated,
		)
	case IsCanceled(err):
		logger.Warn("pipeline.canceled", "error", err)
	case res.Kind == KindDuplicateInvoice:
		logger.Warn("pipeline.duplicate", "error", err)
	default:
		logger.Error("pipeline.failed", "error", err)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, path string, res *Result) error {
	hash, err := HashFile(path)
	if err != nil {
		return &StageError{Stage: StageHash, Path: path, Err: common.Unreadable(path, err)}
	}
	res.Hash = hash
	ctx = common.WithContentHash(ctx, hash)
	logger := common.LoggerFrom(ctx, p.logger).With("path", path)

	unlock := p.locks.Lock(hash)
	defer unlock()

	snap, err := p.loadSnapshot(ctx, path, hash, logger)
	if err != nil {
		return &StageError{Stage: StageSnapshot, Path: path, Err: err}
	}
	res.SnapshotID = snap.ID

	if err := p.ocrStage(ctx, snap, path, logger); err != nil {
		return &StageError{Stage: StageOCR, Path: path, Err: err}
	}

	degraded, err := p.classifyStage(ctx, snap, logger)
	if err != nil {
		return &StageError{Stage: StageClassification, Path: path, Err: err}
	}
	res.ClassificationDegraded = degraded

	extraction, fresh, err := p.extractStage(ctx, snap, logger)
	if err != nil {
		return &StageError{Stage: StageExtraction, Path: path, Err: err}
	}

	validation, err := p.validateStage(ctx, snap, extraction, logger)
	if err != nil {
		return &StageError{Stage: StageValidation, Path: path, Err: err}
	}

	if reason, ok := p.escalationReason(snap, validation); ok {
		extraction, validation, err = p.escalate(ctx, snap, reason, logger)
		if err != nil {
			return &StageError{Stage: StageEscalation, Path: path, Err: err}
		}
		res.Escalated = true
		fresh = true
	}
	if fresh {
		p.meter.Observe(res.Escalated, logger)
	}
	res.FallbackReason = snap.FallbackReason()
	res.Validation = validation.Status
	res.ValidationErrors = validation.Errors

	id, err := p.persist(ctx, snap, extraction, validation, logger)
	if err != nil {
		return &StageError{Stage: StagePersist, Path: path, Err: err}
	}
	res.InvoiceID = id
	return nil
}

// loadSnapshot finds the snapshot for hash or creates one. A path whose content changed gets
// a new snapshot; the old one is kept.
func (p *Pipeline) loadSnapshot(ctx context.Context, path, hash string, logger *slog.Logger) (*entity.ProcessingSnapshot, error) {
	snap, err := p.snapshots.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		logger.Debug("pipeline.snapshot.hit", "snapshot_id", snap.ID)
		return snap, nil
	}

	prev, err := p.snapshots.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		logger.Info("pipeline.snapshot.content_changed",
			"previous_snapshot_id", prev.ID,
			"previous_hash", prev.SourceFileHash,
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap = entity.NewSnapshot(path, hash, p.now())
	// Add adopts the stored row when a concurrent run won the insert
	if err := p.snapshots.Add(ctx, snap); err != nil {
		return nil, err
	}
	logger.Info("pipeline.snapshot.created", "snapshot_id", snap.ID)
	return snap, nil
}

// save persists snap unless ctx already ended, so a cancelled stage never lands.
func (p *Pipeline) save(ctx context.Context, snap *entity.ProcessingSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.snapshots.Update(ctx, snap); err != nil {
		return fmt.Errorf("update snapshot %s: %w", snap.ID, err)
	}
	return nil
}
