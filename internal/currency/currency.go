// Package currency holds the server's currency policy: its name, symbol,
// the balance new accounts start with, and how amounts are displayed.
package currency

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Policy describes the one currency the service tracks.
type Policy struct {
	Name           string
	Symbol         string
	DefaultBalance int64
	// Locale selects digit grouping in Format. Empty means English.
	Locale string
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		Name:           "Dollar",
		Symbol:         "$",
		DefaultBalance: 0,
		Locale:         "en",
	}
}

// Validate reports policy values the service cannot run with.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("currency name is required")
	}
	if p.DefaultBalance < 0 {
		return errors.New("default balance must not be negative")
	}
	if p.Locale != "" {
		if _, err := language.Parse(p.Locale); err != nil {
			return errors.New("unknown locale " + p.Locale)
		}
	}
	return nil
}

// Resolve returns the balance to use when none was supplied.
func (p Policy) Resolve(balance *int64) int64 {
	if balance == nil {
		return p.DefaultBalance
	}
	return *balance
}

// Format renders amount with the currency symbol and grouped digits,
// e.g. "$1,250" or "-$30".
func (p Policy) Format(amount int64) string {
	printer := message.NewPrinter(p.tag())
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return sign + p.Symbol + printer.Sprintf("%d", amount)
}

func (p Policy) tag() language.Tag {
	if p.Locale == "" {
		return language.English
	}
	tag, err := language.Parse(p.Locale)
	if err != nil {
		return language.English
	}
	return tag
}
