package requisition

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is assumed when an amount carries no currency code.
const DefaultCurrency = "USD"

// Money is an amount in minor units.
type Money struct {
	Cents    int64  `json:"cents" yaml:"cents"`
	Currency string `json:"currency,omitempty" yaml:"currency,omitempty"`
}

var printer = message.NewPrinter(language.English)

// String formats the amount with its ISO code and grouped units,
// e.g. "USD 1,234.50".
func (m Money) String() string {
	cur := m.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%s.%02d", cur, sign, printer.Sprint(cents/100), cents%100)
}
