package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	TableSnapshots    = "processing_snapshots"
	TableInvoices     = "invoices"
	TableInvoiceLines = "invoice_lines"
)

var (
	// decimals are written as strings; TEXT keeps SQLite from coercing them to REAL
	longTextType = map[string]string{dialect.Postgres: "text", dialect.SQLite: "text"}
	moneyType    = map[string]string{dialect.Postgres: "numeric(14,2)", dialect.SQLite: "text"}
	rateType     = map[string]string{dialect.Postgres: "numeric(7,4)", dialect.SQLite: "text"}
	qtyType      = map[string]string{dialect.Postgres: "numeric(14,4)", dialect.SQLite: "text"}
)

var (
	// SnapshotsColumns holds the columns for the "processing_snapshots" table.
	SnapshotsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "source_file_path", Type: field.TypeString, Size: 2048},
		{Name: "source_file_hash", Type: field.TypeString, Unique: true, Size: 64},
		{Name: "ocr_text", Type: field.TypeString, Nullable: true, SchemaType: longTextType},
		{Name: "ocr_layout", Type: field.TypeJSON, Nullable: true},
		{Name: "ocr_confidence", Type: field.TypeFloat64, Nullable: true},
		{Name: "ocr_completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "document_type", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "language", Type: field.TypeString, Nullable: true, Size: 16},
		{Name: "supplier_guess", Type: field.TypeString, Nullable: true, Size: 512},
		{Name: "classification_provider_id", Type: field.TypeString, Nullable: true, Size: 128},
		{Name: "classification_confidence", Type: field.TypeFloat64, Nullable: true},
		{Name: "classification_raw", Type: field.TypeString, Nullable: true, SchemaType: longTextType},
		{Name: "classification_degraded", Type: field.TypeBool, Default: false},
		{Name: "classification_completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "extraction_payload", Type: field.TypeJSON, Nullable: true},
		{Name: "extraction_schema_version", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "extraction_hash", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "extraction_confidence", Type: field.TypeFloat64, Nullable: true},
		{Name: "extraction_high_precision", Type: field.TypeBool, Default: false},
		{Name: "extraction_completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "validation_status", Type: field.TypeString, Size: 16, Default: "PENDING"},
		{Name: "validation_errors", Type: field.TypeJSON, Nullable: true},
		{Name: "validation_extraction_hash", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "validation_completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "fallback_triggered", Type: field.TypeBool, Default: false},
		{Name: "fallback_reason", Type: field.TypeString, Nullable: true, Size: 512},
		{Name: "fallback_completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// SnapshotsTable holds the schema information for the "processing_snapshots" table.
	SnapshotsTable = &schema.Table{
		Name:       TableSnapshots,
		Columns:    SnapshotsColumns,
		PrimaryKey: []*schema.Column{SnapshotsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "snapshot_source_file_path",
				Unique:  false,
				Columns: []*schema.Column{SnapshotsColumns[1]},
			},
		},
	}

	// InvoicesColumns holds the columns for the "invoices" table.
	InvoicesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "invoice_number", Type: field.TypeString, Size: 128},
		{Name: "supplier_name", Type: field.TypeString, Size: 512},
		{Name: "supplier_tax_id", Type: field.TypeString, Nullable: true, Size: 32},
		{Name: "issue_date", Type: field.TypeTime},
		{Name: "due_date", Type: field.TypeTime, Nullable: true},
		{Name: "received_date", Type: field.TypeTime},
		{Name: "subtotal", Type: field.TypeString, SchemaType: moneyType},
		{Name: "tax_amount", Type: field.TypeString, Nullable: true, SchemaType: moneyType},
		{Name: "tax_rate", Type: field.TypeString, Nullable: true, SchemaType: rateType},
		{Name: "withholding_amount", Type: field.TypeString, Nullable: true, SchemaType: moneyType},
		{Name: "withholding_rate", Type: field.TypeString, Nullable: true, SchemaType: rateType},
		{Name: "total", Type: field.TypeString, SchemaType: moneyType},
		{Name: "currency", Type: field.TypeString, Size: 3},
		{Name: "origin", Type: field.TypeString, Size: 32},
		{Name: "source_file_path", Type: field.TypeString, Size: 2048},
		{Name: "notes", Type: field.TypeString, Nullable: true, SchemaType: longTextType},
		{Name: "extraction_confidence", Type: field.TypeFloat64, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	// InvoicesTable holds the schema information for the "invoices" table.
	InvoicesTable = &schema.Table{
		Name:       TableInvoices,
		Columns:    InvoicesColumns,
		PrimaryKey: []*schema.Column{InvoicesColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "invoice_invoice_number",
				Unique:  true,
				Columns: []*schema.Column{InvoicesColumns[1]},
			},
			{
				Name:    "invoice_issue_date",
				Unique:  false,
				Columns: []*schema.Column{InvoicesColumns[4]},
			},
		},
	}

	// InvoiceLinesColumns holds the columns for the "invoice_lines" table.
	InvoiceLinesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "line_number", Type: field.TypeInt},
		{Name: "description", Type: field.TypeString, SchemaType: longTextType},
		{Name: "quantity", Type: field.TypeString, SchemaType: qtyType},
		{Name: "unit_price", Type: field.TypeString, SchemaType: moneyType},
		{Name: "tax_rate", Type: field.TypeString, Nullable: true, SchemaType: rateType},
		{Name: "line_total", Type: field.TypeString, SchemaType: moneyType},
		{Name: "invoice_id", Type: field.TypeUUID},
	}
	// InvoiceLinesTable holds the schema information for the "invoice_lines" table.
	InvoiceLinesTable = &schema.Table{
		Name:       TableInvoiceLines,
		Columns:    InvoiceLinesColumns,
		PrimaryKey: []*schema.Column{InvoiceLinesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "invoice_lines_invoices_lines",
				Columns:    []*schema.Column{InvoiceLinesColumns[7]},
				RefColumns: []*schema.Column{InvoicesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "invoiceline_invoice_id_line_number",
				Unique:  true,
				Columns: []*schema.Column{InvoiceLinesColumns[7], InvoiceLinesColumns[1]},
			},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		SnapshotsTable,
		InvoicesTable,
		InvoiceLinesTable,
	}
)

func init() {
	InvoiceLinesTable.ForeignKeys[0].RefTable = InvoicesTable
}

// Migrate creates or alters the tables to match the schema. It never drops columns or indexes.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	m, err := schema.NewMigrate(db.Driver, schema.WithForeignKeys(true))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema migrated", "tables", len(Tables))
	return nil
}
