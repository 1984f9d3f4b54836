package export

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// HTMLConverter turns an HTML document into a PDF. Satisfied by report.Client.
type HTMLConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Renderer encodes ledger documents as PDF, XLSX or CSV.
type Renderer struct {
	pdf     HTMLConverter
	numbers numbers
	logger  *slog.Logger
}

// NewRenderer builds a renderer. pdf may be nil when PDF export is not available.
func NewRenderer(pdf HTMLConverter, locale language.Tag, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default().With("component", "ledger.export")
	}
	return &Renderer{pdf: pdf, numbers: newNumbers(locale), logger: logger}
}

// Render encodes doc. Figures are written exactly as they appear in doc.
func (r *Renderer) Render(ctx context.Context, doc ledger.Document, format ledger.Format) (ledger.Rendered, error) {
	var (
		body []byte
		err  error
		ct   string
	)
	switch format {
	case ledger.FormatPDF:
		body, err = r.renderPDF(ctx, doc)
		ct = "application/pdf"
	case ledger.FormatXLSX:
		body, err = r.renderXLSX(doc)
		ct = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ledger.FormatCSV:
		body, err = r.renderCSV(doc)
		ct = "text/csv; charset=utf-8"
	default:
		return ledger.Rendered{}, shared.Validationf("unsupported export format %q", format)
	}
	if err != nil {
		return ledger.Rendered{}, err
	}
	return ledger.Rendered{Filename: filename(doc, format), ContentType: ct, Body: body}, nil
}

func filename(doc ledger.Document, format ledger.Format) string {
	return fmt.Sprintf("statement-%d-%s.%s", doc.Client.ID, doc.GeneratedAt.Format("20060102"), format)
}
