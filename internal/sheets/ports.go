package sheets

import (
	"context"
	"time"

	"conti/internal/core"
)

// JournalEntry is one transaction mutation as it is exported.
type JournalEntry struct {
	Action string
	At     time.Time
	Record core.Record
}

// Ports for outbound adapters.
type (
	// JournalWriter appends mutations to an external journal.
	JournalWriter interface {
		Append(ctx context.Context, e JournalEntry) (rowRef string, err error)
	}

	// JournalReader lists exported rows for one year.
	JournalReader interface {
		ListEntries(ctx context.Context, year int) ([]JournalEntry, error)
	}
)
