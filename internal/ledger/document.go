package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Format names an export encoding.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name; empty selects PDF.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatPDF, nil
	case FormatPDF, FormatXLSX, FormatCSV:
		return f, nil
	default:
		return "", shared.Validationf("unsupported export format %q", raw)
	}
}

// Document is the render-ready view handed to a Renderer.
type Document struct {
	Title       string
	Client      Client
	Entries     []LedgerEntry
	Summary     Summary
	Pagination  shared.Pagination
	FilterLabel string
	GeneratedAt time.Time
	Location    *time.Location
}

// Rendered is an encoded export.
type Rendered struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Renderer encodes documents. Renderers never compute totals or balances.
type Renderer interface {
	Render(ctx context.Context, doc Document, format Format) (Rendered, error)
}
