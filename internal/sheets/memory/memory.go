// Package memory is the in-process journal used when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"conti/internal/sheets"
)

type Journal struct {
	mu      sync.Mutex
	entries []sheets.JournalEntry
}

var (
	_ sheets.JournalWriter = (*Journal)(nil)
	_ sheets.JournalReader = (*Journal)(nil)
)

func New() *Journal {
	return &Journal{}
}

// Append stores the entry and returns a synthetic row reference.
func (j *Journal) Append(_ context.Context, e sheets.JournalEntry) (string, error) {
	if e.Record.ID == "" {
		return "", fmt.Errorf("journal entry without transaction id")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return fmt.Sprintf("mem:%d", len(j.entries)), nil
}

// ListEntries returns the entries whose transaction date falls in year.
func (j *Journal) ListEntries(_ context.Context, year int) ([]sheets.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []sheets.JournalEntry
	for _, e := range j.entries {
		if e.Record.Date.Year() == year {
			out = append(out, e)
		}
	}
	return out, nil
}
