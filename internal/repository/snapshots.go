package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// SnapshotRepository persists processing snapshots. Lookups by hash are exact; the path
// lookup returns the most recent snapshot seen at that path.
type SnapshotRepository interface {
	GetByHash(ctx context.Context, hash string) (*entity.ProcessingSnapshot, error)
	GetByPath(ctx context.Context, path string) (*entity.ProcessingSnapshot, error)
	Add(ctx context.Context, s *entity.ProcessingSnapshot) error
	Update(ctx context.Context, s *entity.ProcessingSnapshot) error
}

type snapshotRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewSnapshotRepository(db *DB, logger *slog.Logger) SnapshotRepository {
	return &snapshotRepository{db: db, logger: logger}
}

func snapshotColumns() []string {
	cols := make([]string, len(SnapshotsColumns))
	for i, c := range SnapshotsColumns {
		cols[i] = c.Name
	}
	return cols
}

func (r *snapshotRepository) GetByHash(ctx context.Context, hash string) (*entity.ProcessingSnapshot, error) {
	return r.getOne(ctx, entsql.EQ("source_file_hash", hash))
}

func (r *snapshotRepository) GetByPath(ctx context.Context, path string) (*entity.ProcessingSnapshot, error) {
	return r.getOne(ctx, entsql.EQ("source_file_path", path))
}

// getOne returns (nil, nil) when nothing matches.
func (r *snapshotRepository) getOne(ctx context.Context, p *entsql.Predicate) (*entity.ProcessingSnapshot, error) {
	query, args := entsql.Dialect(r.db.Dialect).
		Select(snapshotColumns()...).
		From(entsql.Table(TableSnapshots)).
		Where(p).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()

	s, err := scanSnapshot(r.db.SQL.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to load snapshot", "error", err)
		return nil, fmt.Errorf("%w: load snapshot: %v", common.ErrDatabase, err)
	}
	return s, nil
}

// Add inserts s. If a snapshot with the same hash already exists (a concurrent run won),
// s is replaced by the stored one.
func (r *snapshotRepository) Add(ctx context.Context, s *entity.ProcessingSnapshot) error {
	values, err := snapshotValues(s)
	if err != nil {
		return err
	}
	query, args := entsql.Dialect(r.db.Dialect).
		Insert(TableSnapshots).
		Columns(snapshotColumns()...).
		Values(values...).
		OnConflict(entsql.ConflictColumns("source_file_hash"), entsql.DoNothing()).
		Query()

	res, err := r.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to insert snapshot", "hash", s.SourceFileHash, "error", err)
		return fmt.Errorf("%w: insert snapshot: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := r.GetByHash(ctx, s.SourceFileHash)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: snapshot %s vanished after conflict", common.ErrDatabase, s.SourceFileHash)
		}
		r.logger.Debug("snapshot already present", "hash", s.SourceFileHash, "id", existing.ID)
		*s = *existing
	}
	return nil
}

func (r *snapshotRepository) Update(ctx context.Context, s *entity.ProcessingSnapshot) error {
	values, err := snapshotValues(s)
	if err != nil {
		return err
	}
	cols := snapshotColumns()
	ub := entsql.Dialect(r.db.Dialect).Update(TableSnapshots)
	// id, hash and created_at are immutable
	for i, c := range cols {
		switch c {
		case "id", "source_file_hash", "created_at":
			continue
		}
		ub.Set(c, values[i])
	}
	query, args := ub.Where(entsql.EQ("id", s.ID)).Query()

	res, err := r.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to update snapshot", "id", s.ID, "error", err)
		return fmt.Errorf("%w: update snapshot: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s: %w", s.ID, common.ErrNotFound)
	}
	return nil
}

func snapshotValues(s *entity.ProcessingSnapshot) ([]any, error) {
	// nil stays NULL for stages that have not completed
	var (
		ocrText, ocrLayout, ocrConf, ocrAt                        any
		docType, lang, supplier, provider, clsConf, clsRaw, clsAt any
		payload, schemaVer, extHash, extConf, extAt               any
		valErrors, valHash, valAt                                 any
		fbReason, fbAt                                            any
		clsDegraded, extHigh, fbTriggered                         bool
	)
	valStatus := string(s.ValidationStatus())

	if st := s.OCR; st.Completed() {
		layout, err := json.Marshal(st.Payload.Pages)
		if err != nil {
			return nil, fmt.Errorf("encode ocr layout: %w", err)
		}
		ocrText, ocrLayout, ocrConf, ocrAt = st.Payload.Text, string(layout), st.Payload.Confidence, st.CompletedAt
	}
	if st := s.Classification; st.Completed() {
		p := st.Payload
		docType, lang, supplier, provider, clsConf, clsRaw, clsAt =
			p.DocumentType, p.Language, p.SupplierGuess, p.ProviderID, p.Confidence, p.RawPayload, st.CompletedAt
		clsDegraded = p.Degraded
	}
	if st := s.Extraction; st.Completed() {
		p := st.Payload
		payload, schemaVer, extHash, extConf, extAt = string(p.Payload), p.SchemaVersion, p.Hash, p.Confidence, st.CompletedAt
		extHigh = p.HighPrecision
	}
	if st := s.Validation; st.Completed() {
		errs, err := json.Marshal(nonNil(st.Payload.Errors))
		if err != nil {
			return nil, fmt.Errorf("encode validation errors: %w", err)
		}
		valErrors, valHash, valAt = string(errs), st.Payload.ExtractionHash, st.CompletedAt
	}
	if st := s.Fallback; st.Completed() {
		fbTriggered, fbReason, fbAt = true, st.Payload.Reason, st.CompletedAt
	}

	return []any{
		s.ID, s.SourceFilePath, s.SourceFileHash,
		ocrText, ocrLayout, ocrConf, ocrAt,
		docType, lang, supplier, provider, clsConf, clsRaw, clsDegraded, clsAt,
		payload, schemaVer, extHash, extConf, extHigh, extAt,
		valStatus, valErrors, valHash, valAt,
		fbTriggered, fbReason, fbAt,
		s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	}, nil
}

func scanSnapshot(row *sql.Row) (*entity.ProcessingSnapshot, error) {
	var (
		s                                         entity.ProcessingSnapshot
		ocrText, ocrLayout                        sql.NullString
		ocrConf, clsConf, extConf                 sql.NullFloat64
		ocrAt, clsAt, extAt, valAt, fbAt          sql.NullTime
		docType, lang, supplier, provider, clsRaw sql.NullString
		payload, schemaVer, extHash               sql.NullString
		valStatus                                 string
		valErrors, valHash, fbReason              sql.NullString
		clsDegraded, extHigh, fbTriggered         bool
	)
	err := row.Scan(
		&s.ID, &s.SourceFilePath, &s.SourceFileHash,
		&ocrText, &ocrLayout, &ocrConf, &ocrAt,
		&docType, &lang, &supplier, &provider, &clsConf, &clsRaw, &clsDegraded, &clsAt,
		&payload, &schemaVer, &extHash, &extConf, &extHigh, &extAt,
		&valStatus, &valErrors, &valHash, &valAt,
		&fbTriggered, &fbReason, &fbAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.OCR = entity.NotStarted[entity.OCRResult]()
	if ocrAt.Valid {
		r := entity.OCRResult{Text: ocrText.String, Confidence: ocrConf.Float64}
		if ocrLayout.Valid && ocrLayout.String != "" {
			if err := json.Unmarshal([]byte(ocrLayout.String), &r.Pages); err != nil {
				return nil, fmt.Errorf("decode ocr layout: %w", err)
			}
		}
		s.OCR.Overwrite(r, ocrAt.Time)
	}

	s.Classification = entity.NotStarted[entity.ClassificationResult]()
	if clsAt.Valid {
		s.Classification.Overwrite(entity.ClassificationResult{
			DocumentType:  docType.String,
			Language:      lang.String,
			SupplierGuess: supplier.String,
			ProviderID:    provider.String,
			Confidence:    clsConf.Float64,
			RawPayload:    clsRaw.String,
			Degraded:      clsDegraded,
		}, clsAt.Time)
	}

	s.Extraction = entity.NotStarted[entity.ExtractionPayload]()
	if extAt.Valid {
		s.Extraction.Overwrite(entity.ExtractionPayload{
			Payload:       json.RawMessage(payload.String),
			SchemaVersion: schemaVer.String,
			Hash:          extHash.String,
			Confidence:    extConf.Float64,
			HighPrecision: extHigh,
		}, extAt.Time)
	}

	s.Validation = entity.NotStarted[entity.ValidationResult]()
	if valAt.Valid {
		v := entity.ValidationResult{
			Status:         constants.ParseValidationStatus(valStatus),
			ExtractionHash: valHash.String,
		}
		if valErrors.Valid && valErrors.String != "" {
			if err := json.Unmarshal([]byte(valErrors.String), &v.Errors); err != nil {
				return nil, fmt.Errorf("decode validation errors: %w", err)
			}
		}
		s.Validation.Overwrite(v, valAt.Time)
	}

	s.Fallback = entity.NotStarted[entity.FallbackPayload]()
	if fbTriggered && fbAt.Valid {
		s.Fallback.Overwrite(entity.FallbackPayload{Reason: fbReason.String}, fbAt.Time)
	}

	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func nonNil(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}

var _ SnapshotRepository = (*snapshotRepository)(nil)
