package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const displayDate = "02 Jan 2006"

// numbers formats amounts with locale grouping. The fraction is taken from the decimal
// itself so no value passes through float64.
type numbers struct {
	printer *message.Printer
	sep     string
}

func newNumbers(tag language.Tag) numbers {
	p := message.NewPrinter(tag)
	sep := "."
	if probe := p.Sprint(number.Decimal(1.5, number.Scale(1))); len(probe) == 3 {
		sep = probe[1:2]
	}
	return numbers{printer: p, sep: sep}
}

func (n numbers) amount(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	v, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return d.StringFixed(2)
	}
	out := n.printer.Sprint(number.Decimal(v)) + n.sep + frac
	if d.IsNegative() {
		out = "-" + out
	}
	return out
}

// side renders a debit or credit cell, blank when zero.
func (n numbers) side(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return n.amount(d)
}

func (n numbers) count(v int) string {
	return n.printer.Sprint(number.Decimal(v))
}

// formatDay renders a transaction date. Those are calendar days and are never shifted.
func formatDay(t time.Time) string {
	return t.Format(displayDate)
}

// formatDate renders an instant, such as the generation time, in loc.
func formatDate(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(displayDate)
}
