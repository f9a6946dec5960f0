package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// InvoiceFilter narrows List by issue date (inclusive bounds).
type InvoiceFilter struct {
	From *time.Time
	To   *time.Time
}

type InvoiceRepository interface {
	FindByInvoiceNumber(ctx context.Context, number string) (*entity.Invoice, error)
	Add(ctx context.Context, inv *entity.Invoice) error
	List(ctx context.Context, filter InvoiceFilter) ([]*entity.Invoice, error)
}

type invoiceRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewInvoiceRepository(db *DB, logger *slog.Logger) InvoiceRepository {
	return &invoiceRepository{db: db, logger: logger}
}

var invoiceColumns = []string{
	"id", "invoice_number", "supplier_name", "supplier_tax_id", "issue_date", "due_date", "received_date",
	"subtotal", "tax_amount", "tax_rate", "withholding_amount", "withholding_rate", "total",
	"currency", "origin", "source_file_path", "notes", "extraction_confidence", "created_at",
}

var lineColumns = []string{
	"id", "invoice_id", "line_number", "description", "quantity", "unit_price", "tax_rate", "line_total",
}

// FindByInvoiceNumber returns (nil, nil) when no invoice carries number.
func (r *invoiceRepository) FindByInvoiceNumber(ctx context.Context, number string) (*entity.Invoice, error) {
	query, args := entsql.Dialect(r.db.Dialect).
		Select(invoiceColumns...).
		From(entsql.Table(TableInvoices)).
		Where(entsql.EQ("invoice_number", number)).
		Query()

	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to find invoice", "invoice_number", number, "error", err)
		return nil, fmt.Errorf("%w: find invoice: %v", common.ErrDatabase, err)
	}
	invs, err := scanInvoices(rows)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, nil
	}
	if err := r.loadLines(ctx, invs); err != nil {
		return nil, err
	}
	return invs[0], nil
}

// Add stores the invoice and its lines in one transaction. A unique violation on the
// invoice number is reported as common.ErrDuplicateInvoice.
func (r *invoiceRepository) Add(ctx context.Context, inv *entity.Invoice) (err error) {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", common.ErrDatabase, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	b := entsql.Dialect(r.db.Dialect)
	query, args := b.Insert(TableInvoices).
		Columns(invoiceColumns...).
		Values(
			inv.ID, inv.InvoiceNumber, inv.SupplierName, nullString(inv.SupplierTaxID),
			inv.IssueDate.UTC(), nullTime(inv.DueDate), inv.ReceivedDate.UTC(),
			money(inv.Subtotal), nullMoney(inv.TaxAmount), nullRate(inv.TaxRate),
			nullMoney(inv.WithholdingAmount), nullRate(inv.WithholdingRate), money(inv.Total),
			inv.Currency, inv.Origin, inv.SourceFilePath, nullString(inv.Notes),
			nullFloat(inv.ExtractionConfidence), inv.CreatedAt.UTC(),
		).
		Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		if sqlgraph.IsUniqueConstraintError(err) {
			r.logger.Warn("duplicate invoice number", "invoice_number", inv.InvoiceNumber)
			return common.DuplicateInvoice(inv.InvoiceNumber)
		}
		r.logger.Error("failed to insert invoice", "invoice_number", inv.InvoiceNumber, "error", err)
		return fmt.Errorf("%w: insert invoice: %v", common.ErrDatabase, err)
	}

	if len(inv.Lines) > 0 {
		ib := b.Insert(TableInvoiceLines).Columns(lineColumns...)
		for _, l := range inv.Lines {
			ib.Values(l.ID, inv.ID, l.LineNumber, l.Description,
				l.Quantity.String(), money(l.UnitPrice), nullRate(l.TaxRate), money(l.LineTotal))
		}
		query, args = ib.Query()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.Error("failed to insert invoice lines", "invoice_number", inv.InvoiceNumber, "error", err)
			return fmt.Errorf("%w: insert invoice lines: %v", common.ErrDatabase, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	r.logger.Info("invoice stored", "invoice_id", inv.ID, "invoice_number", inv.InvoiceNumber, "lines", len(inv.Lines))
	return nil
}

func (r *invoiceRepository) List(ctx context.Context, filter InvoiceFilter) ([]*entity.Invoice, error) {
	sel := entsql.Dialect(r.db.Dialect).
		Select(invoiceColumns...).
		From(entsql.Table(TableInvoices))
	var preds []*entsql.Predicate
	if filter.From != nil {
		preds = append(preds, entsql.GTE("issue_date", filter.From.UTC()))
	}
	if filter.To != nil {
		preds = append(preds, entsql.LTE("issue_date", filter.To.UTC()))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	query, args := sel.OrderBy("issue_date", "invoice_number").Query()

	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list invoices", "error", err)
		return nil, fmt.Errorf("%w: list invoices: %v", common.ErrDatabase, err)
	}
	invs, err := scanInvoices(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, invs); err != nil {
		return nil, err
	}
	return invs, nil
}

func (r *invoiceRepository) loadLines(ctx context.Context, invs []*entity.Invoice) error {
	if len(invs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*entity.Invoice, len(invs))
	ids := make([]any, len(invs))
	for i, inv := range invs {
		byID[inv.ID] = inv
		ids[i] = inv.ID
	}
	query, args := entsql.Dialect(r.db.Dialect).
		Select(lineColumns...).
		From(entsql.Table(TableInvoiceLines)).
		Where(entsql.In("invoice_id", ids...)).
		OrderBy("invoice_id", "line_number").
		Query()

	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: load invoice lines: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			l                entity.InvoiceLine
			qty, unit, total string
			taxRate          sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineNumber, &l.Description, &qty, &unit, &taxRate, &total); err != nil {
			return fmt.Errorf("%w: scan invoice line: %v", common.ErrDatabase, err)
		}
		if l.Quantity, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("decode quantity: %w", err)
		}
		if l.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return fmt.Errorf("decode unit price: %w", err)
		}
		if l.LineTotal, err = decimal.NewFromString(total); err != nil {
			return fmt.Errorf("decode line total: %w", err)
		}
		if l.TaxRate, err = decodeNullDecimal(taxRate); err != nil {
			return err
		}
		if inv := byID[l.InvoiceID]; inv != nil {
			inv.Lines = append(inv.Lines, l)
		}
	}
	return rows.Err()
}

func scanInvoices(rows *sql.Rows) ([]*entity.Invoice, error) {
	defer func() { _ = rows.Close() }()

	var out []*entity.Invoice
	for rows.Next() {
		var (
			inv                                  entity.Invoice
			taxID, notes                         sql.NullString
			dueDate                              sql.NullTime
			subtotal, total                      string
			taxAmount, taxRate, whAmount, whRate sql.NullString
			confidence                           sql.NullFloat64
		)
		if err := rows.Scan(
			&inv.ID, &inv.InvoiceNumber, &inv.SupplierName, &taxID, &inv.IssueDate, &dueDate, &inv.ReceivedDate,
			&subtotal, &taxAmount, &taxRate, &whAmount, &whRate, &total,
			&inv.Currency, &inv.Origin, &inv.SourceFilePath, &notes, &confidence, &inv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan invoice: %v", common.ErrDatabase, err)
		}
		var err error
		if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return nil, fmt.Errorf("decode subtotal: %w", err)
		}
		if inv.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("decode total: %w", err)
		}
		for _, f := range []struct {
			src sql.NullString
			dst **decimal.Decimal
		}{
			{taxAmount, &inv.TaxAmount}, {taxRate, &inv.TaxRate},
			{whAmount, &inv.WithholdingAmount}, {whRate, &inv.WithholdingRate},
		} {
			if *f.dst, err = decodeNullDecimal(f.src); err != nil {
				return nil, err
			}
		}
		inv.SupplierTaxID = taxID.String
		inv.Notes = notes.String
		if dueDate.Valid {
			d := dueDate.Time.UTC()
			inv.DueDate = &d
		}
		if confidence.Valid {
			c := confidence.Float64
			inv.ExtractionConfidence = &c
		}
		inv.IssueDate = inv.IssueDate.UTC()
		inv.ReceivedDate = inv.ReceivedDate.UTC()
		inv.CreatedAt = inv.CreatedAt.UTC()
		out = append(out, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate invoices: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func nullMoney(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return money(*d)
}

func nullRate(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func decodeNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("decode decimal %q: %w", s.String, err)
	}
	return &d, nil
}

var _ InvoiceRepository = (*invoiceRepository)(nil)
