// Package http provides the JSON API over the transaction, catalog and
// statistics services.
//
// This file implements utilities for parsing and validating request data.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"conti/internal/core"
)

// WorkspaceHeader carries the owner uid every API call is scoped to.
const WorkspaceHeader = "X-Workspace-ID"

// maxBodyBytes bounds request bodies; a transaction form is far smaller.
const maxBodyBytes = 64 << 10

var errMissingWorkspace = errors.New("missing " + WorkspaceHeader + " header")

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using now
// as the default. Out-of-range or non-numeric values are validation errors.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	params := MonthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return params, fmt.Errorf("%w: year %q", core.ErrValidation, v)
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return params, fmt.Errorf("%w: month %q", core.ErrValidation, v)
		}
		params.Month = m
	}

	return params, nil
}

// workspaceID returns the sanitized workspace header value.
func workspaceID(r *http.Request) (string, error) {
	id := sanitizeInput(r.Header.Get(WorkspaceHeader))
	if id == "" {
		return "", errMissingWorkspace
	}
	return id, nil
}

// RequestBodyParser reads a JSON body once and decodes it into as many
// targets as the handler needs.
type RequestBodyParser struct {
	body []byte
	err  error
}

// NewRequestBodyParser reads at most maxBodyBytes of the request body.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Decode unmarshals the body into v. An empty body decodes to the zero value.
func (p *RequestBodyParser) Decode(v any) error {
	if p.err != nil {
		return fmt.Errorf("read body: %w", p.err)
	}
	if len(p.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// entryRequest holds the fields shared by every transaction type.
type entryRequest struct {
	Type    core.TransactionType `json:"type"`
	Date    string               `json:"date"`
	Comment string               `json:"comment"`
}

// entry converts the shared fields, defaulting the date to today.
func (e entryRequest) entry(now time.Time) (core.Date, string, error) {
	comment := sanitizeInput(e.Comment)
	if strings.TrimSpace(e.Date) == "" {
		return core.NewDate(now.Year(), int(now.Month()), now.Day()), comment, nil
	}
	d, err := core.ParseDate(e.Date)
	if err != nil {
		return core.Date{}, "", err
	}
	return d, comment, nil
}

// inputFor decodes the type-specific fields for txType.
func inputFor(p *RequestBodyParser, txType core.TransactionType) (core.Input, error) {
	var in core.Input
	switch txType {
	case core.TypeExpense:
		var v core.ExpenseInput
		if err := p.Decode(&v); err != nil {
			return nil, err
		}
		in = v
	case core.TypeIncome:
		var v core.IncomeInput
		if err := p.Decode(&v); err != nil {
			return nil, err
		}
		in = v
	case core.TypeTransfer:
		var v core.TransferInput
		if err := p.Decode(&v); err != nil {
			return nil, err
		}
		in = v
	case core.TypeExchange:
		var v core.ExchangeInput
		if err := p.Decode(&v); err != nil {
			return nil, err
		}
		in = v
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidType, txType)
	}
	return in, nil
}

// sanitizeInput removes control characters except tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
