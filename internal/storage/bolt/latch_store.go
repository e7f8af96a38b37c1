package bolt

import (
	"context"
	"time"

	"go.etcd.io/bbolt"
)

type latchStore struct {
	db *bbolt.DB
}

func (s *latchStore) Claim(ctx context.Context, period string) (bool, error) {
	claimed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketLatch))
		if b.Get([]byte(period)) != nil {
			return nil
		}
		claimed = true
		return b.Put([]byte(period), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *latchStore) Sent(ctx context.Context, period string) (bool, error) {
	sent := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sent = tx.Bucket([]byte(bucketLatch)).Get([]byte(period)) != nil
		return nil
	})
	return sent, err
}
