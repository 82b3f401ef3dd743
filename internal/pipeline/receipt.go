package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ParsedReceipt is the structured result of AI parsing, validated at the
// boundary before anything downstream trusts it.
type ParsedReceipt struct {
	Merchant string       `json:"merchant"`
	Date     string       `json:"date"` // YYYY-MM-DD
	Amount   float64      `json:"amount"`
	Currency string       `json:"currency,omitempty"`
	Category string       `json:"category"`
	Items    []ParsedItem `json:"items,omitempty"`
}

type ParsedItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity,omitempty"`
	Amount      float64 `json:"amount"`
}

var ErrInvalidReceipt = errors.New("invalid parsed receipt")

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Categories the parser is allowed to emit. "Other" is the catch-all the
// prompt instructs the model to fall back to.
var AllowedCategories = []string{
	"Groceries",
	"Dining",
	"Transport",
	"Utilities",
	"Health",
	"Shopping",
	"Entertainment",
	"Travel",
	"Other",
}

// Validate checks the fields the ledger write depends on. It normalizes
// rather than rejects where safe: unknown categories collapse to "Other",
// whitespace is trimmed.
func (p *ParsedReceipt) Validate() error {
	p.Merchant = strings.TrimSpace(p.Merchant)
	if p.Merchant == "" {
		return fmt.Errorf("%w: merchant is required", ErrInvalidReceipt)
	}
	if !datePattern.MatchString(p.Date) {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidReceipt, p.Date)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidReceipt)
	}

	known := false
	for _, c := range AllowedCategories {
		if strings.EqualFold(p.Category, c) {
			p.Category = c
			known = true
			break
		}
	}
	if !known {
		p.Category = "Other"
	}

	for i := range p.Items {
		p.Items[i].Description = strings.TrimSpace(p.Items[i].Description)
		if p.Items[i].Description == "" {
			return fmt.Errorf("%w: item %d has no description", ErrInvalidReceipt, i)
		}
		if p.Items[i].Quantity < 0 {
			return fmt.Errorf("%w: item %d has negative quantity", ErrInvalidReceipt, i)
		}
	}
	return nil
}
