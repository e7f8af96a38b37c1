package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/deskledger/internal/storage"
	"github.com/redis/go-redis/v9"
)

type ledgerStore struct {
	client *redis.Client
}

// Load retrieves the ledger for a date and computer
func (s *ledgerStore) Load(ctx context.Context, date, computerID string) (*storage.DayLedger, error) {
	data, err := s.client.Get(ctx, ledgerKey(computerID, date)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return parseLedger(data, date)
}

// Save overwrites the ledger document and records its date in the index
func (s *ledgerStore) Save(ctx context.Context, ledger *storage.DayLedger) error {
	document, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	script := redis.NewScript(saveLedgerScript)
	keys := []string{ledgerKey(ledger.ComputerID, ledger.Date), ledgerIndexKey(ledger.ComputerID)}
	args := []interface{}{ledger.Date, string(document)}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ListDates returns every indexed date for a computer in ascending order
func (s *ledgerStore) ListDates(ctx context.Context, computerID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, ledgerIndexKey(computerID)).Result()
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(members))
	for _, member := range members {
		if _, err := time.Parse(storage.DateLayout, member); err != nil {
			continue
		}
		dates = append(dates, member)
	}
	sort.Strings(dates)

	return dates, nil
}
