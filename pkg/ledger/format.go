package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const currencySymbol = "R$"

var printer = message.NewPrinter(language.BrazilianPortuguese)

// FormatCurrency renders a BRL amount the way the operators read it, e.g. "R$ 1.234,56".
func FormatCurrency(v decimal.Decimal) string {
	rounded := v.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	return sign + currencySymbol + " " + printer.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(2)))
}

// FormatDate renders t as dd/mm/yyyy in t's own location.
func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// FormatDateTime renders t as dd/mm/yyyy hh:mm.
func FormatDateTime(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}
