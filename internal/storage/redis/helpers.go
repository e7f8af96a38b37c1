package redis

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/deskledger/internal/storage"
)

// parseLedger decodes a stored ledger document
func parseLedger(data []byte, date string) (*storage.DayLedger, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var ledger storage.DayLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if ledger.Date != date {
		return nil, fmt.Errorf("%w: document holds date %q", storage.ErrCorrupt, ledger.Date)
	}
	ledger.Normalize()

	return &ledger, nil
}
