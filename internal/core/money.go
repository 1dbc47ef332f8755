// Package core provides money normalization and the transaction domain model.
//
// This file contains the functions that turn user-typed amount text into a
// canonical 2-decimal monetary value.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SanitizeInput filters raw amount text down to a numeric prefix.
//
// Commas become dots, a single leading minus is kept, digits are kept, only the
// first dot survives and every other character is dropped. The function never
// fails and is idempotent.
//
// Examples:
//   SanitizeInput("12,50 €") -> "12.50"
//   SanitizeInput("--1.2.3") -> "-1.23"
//   SanitizeInput("5-1")     -> "51"
func SanitizeInput(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	hasDot := false
	for _, r := range raw {
		if r == ',' {
			r = '.'
		}
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-':
			if b.Len() == 0 {
				b.WriteRune(r)
			}
		case r == '.':
			if !hasDot {
				hasDot = true
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// RoundAmount truncates toward negative infinity at the cent.
// It is floor(d*100)/100, not half-up: 1.005 -> 1.00, -1.001 -> -1.01.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Floor().Shift(-2)
}

// ParseAmount runs amount text through expression evaluation and rounding.
// Blank text is a missing field; text that does not evaluate is an invalid amount.
func ParseAmount(field, text string) (decimal.Decimal, error) {
	if strings.TrimSpace(text) == "" {
		return decimal.Zero, missingField(field)
	}
	v, ok := EvaluateExpression(text)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidAmount, field, text)
	}
	return RoundAmount(v), nil
}

// FormatAmount renders a monetary value with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
