package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// numericToDecimal parses a NUMERIC column selected as text.
func numericToDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// decimalToNumeric renders an amount with the column's two-digit scale.
func decimalToNumeric(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// nullString maps "" to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
