package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/deskledger/internal/storage"
	"go.etcd.io/bbolt"
)

type ledgerStore struct {
	db *bbolt.DB
}

func (s *ledgerStore) Load(ctx context.Context, date, computerID string) (*storage.DayLedger, error) {
	ledger, err := getBucketValue[storage.DayLedger](ctx, s.db, bucketLedgers, ledgerKey(computerID, date))
	if err != nil {
		return nil, err
	}
	ledger.Normalize()
	return ledger, nil
}

func (s *ledgerStore) Save(ctx context.Context, ledger *storage.DayLedger) error {
	return putBucketValue(ctx, s.db, bucketLedgers, ledgerKey(ledger.ComputerID, ledger.Date), ledger)
}

func (s *ledgerStore) ListDates(ctx context.Context, computerID string) ([]string, error) {
	return listKeysWithPrefix(ctx, s.db, bucketLedgers, []byte(ledgerKey(computerID, "")))
}

// ledgerKey groups keys by computer so a cursor seek lists one machine's days
// in date order.
func ledgerKey(computerID, date string) string {
	return fmt.Sprintf("%s/%s", storage.SafeName(computerID), date)
}
