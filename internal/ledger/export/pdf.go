package export

import (
	"bytes"
	"context"
	"errors"
	"html/template"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/web"
)

var statementTemplate = template.Must(template.ParseFS(web.Templates, "templates/statement/statement.html"))

type pdfRow struct {
	Date, Description, Debit, Credit, Balance string
}

type pdfView struct {
	Title, Client, Filter, Generated, CurrentBalance string
	Rows                                             []pdfRow
	Opening, TotalDebit, TotalCredit, Closing, Count string
	Page, TotalPages                                 int
}

func (r *Renderer) statementHTML(doc ledger.Document) (string, error) {
	view := pdfView{
		Title:          doc.Title,
		Client:         doc.Client.Name,
		Filter:         doc.FilterLabel,
		Generated:      formatDate(doc.GeneratedAt, doc.Location),
		CurrentBalance: r.numbers.amount(doc.Client.CurrentBalance),
		Opening:        r.numbers.amount(doc.Summary.OpeningBalance),
		TotalDebit:     r.numbers.amount(doc.Summary.TotalDebit),
		TotalCredit:    r.numbers.amount(doc.Summary.TotalCredit),
		Closing:        r.numbers.amount(doc.Summary.ClosingBalance),
		Count:          r.numbers.count(doc.Summary.TransactionCount),
		Page:           doc.Pagination.CurrentPage,
		TotalPages:     doc.Pagination.TotalPages,
	}
	for _, e := range doc.Entries {
		view.Rows = append(view.Rows, pdfRow{
			Date:        formatDay(e.Date),
			Description: e.Description,
			Debit:       r.numbers.side(e.Debit),
			Credit:      r.numbers.side(e.Credit),
			Balance:     r.numbers.amount(e.BalanceAfter),
		})
	}
	var buf bytes.Buffer
	if err := statementTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Renderer) renderPDF(ctx context.Context, doc ledger.Document) ([]byte, error) {
	if r.pdf == nil {
		return nil, shared.ExternalService("render pdf", errors.New("pdf converter not configured"))
	}
	html, err := r.statementHTML(doc)
	if err != nil {
		return nil, err
	}
	pdf, err := r.pdf.RenderHTML(ctx, html)
	if err != nil {
		r.logger.Error("statement pdf render failed", "client_id", doc.Client.ID, "error", err)
		return nil, shared.ExternalService("render pdf", err).WithClient(doc.Client.ID)
	}
	return pdf, nil
}
