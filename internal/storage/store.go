package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrCorrupt is returned when a stored record exists but cannot be decoded.
var ErrCorrupt = errors.New("storage: record corrupt")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Ledgers() LedgerStore
	Latches() LatchStore
}

// LedgerStore persists one DayLedger per (date, computer) pair.
type LedgerStore interface {
	// Load returns ErrNotFound when nothing was recorded for the pair and an
	// error wrapping ErrCorrupt when the stored document cannot be decoded.
	Load(ctx context.Context, date, computerID string) (*DayLedger, error)
	// Save overwrites the stored record for (ledger.Date, ledger.ComputerID).
	Save(ctx context.Context, ledger *DayLedger) error
	// ListDates returns the dates with a stored ledger for computerID, ascending.
	ListDates(ctx context.Context, computerID string) ([]string, error)
}

// LatchStore records which report periods were already delivered.
type LatchStore interface {
	// Claim marks period as sent. It returns false if the period was already
	// claimed, by this or an earlier process.
	Claim(ctx context.Context, period string) (bool, error)
	Sent(ctx context.Context, period string) (bool, error)
}
