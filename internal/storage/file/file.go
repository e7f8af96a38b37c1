// Package file stores one indented JSON document per (date, computer) pair,
// named {date}-{computerId}.json, and keeps the report latch in a small bolt
// database next to them that is opened per call.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/storage/bolt"
	"github.com/natefinch/atomic"
)

const (
	ledgerExt = ".json"
	latchFile = "report-latch.bolt"
)

// Store implements storage.Store on a directory of ledger files.
type Store struct {
	ledgers *ledgerStore
	latches *latchStore
}

// Open prepares dir. The latch database is only opened while a latch is
// read or claimed, so any number of processes can share the directory.
func Open(dir string) (*Store, error) {
	if err := storage.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	return &Store{
		ledgers: &ledgerStore{dir: dir},
		latches: &latchStore{path: filepath.Join(dir, latchFile)},
	}, nil
}

// Close is a no-op; nothing is held open between calls.
func (s *Store) Close() error {
	return nil
}

// Ledgers returns the file-backed ledger store.
func (s *Store) Ledgers() storage.LedgerStore { return s.ledgers }

// Latches returns the bolt-backed latch store.
func (s *Store) Latches() storage.LatchStore { return s.latches }

type latchStore struct {
	path string
	mu   sync.Mutex
}

func (s *latchStore) with(fn func(storage.LatchStore) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bolt.Open(s.path)
	if err != nil {
		return false, fmt.Errorf("open report latch: %w", err)
	}
	ok, err := fn(db.Latches())
	if cerr := db.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close report latch: %w", cerr)
	}
	return ok, err
}

func (s *latchStore) Claim(ctx context.Context, period string) (bool, error) {
	return s.with(func(l storage.LatchStore) (bool, error) { return l.Claim(ctx, period) })
}

func (s *latchStore) Sent(ctx context.Context, period string) (bool, error) {
	return s.with(func(l storage.LatchStore) (bool, error) { return l.Sent(ctx, period) })
}

type ledgerStore struct {
	dir string
}

func (s *ledgerStore) path(date, computerID string) string {
	return filepath.Join(s.dir, storage.LedgerName(date, computerID)+ledgerExt)
}

func (s *ledgerStore) Load(ctx context.Context, date, computerID string) (*storage.DayLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.path(date, computerID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var ledger storage.DayLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, path, err)
	}
	if ledger.Date != date {
		return nil, fmt.Errorf("%w: %s: holds date %q", storage.ErrCorrupt, path, ledger.Date)
	}
	ledger.Normalize()

	return &ledger, nil
}

func (s *ledgerStore) Save(ctx context.Context, ledger *storage.DayLedger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	path := s.path(ledger.Date, ledger.ComputerID)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write ledger %s: %w", path, err)
	}
	return nil
}

func (s *ledgerStore) ListDates(ctx context.Context, computerID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list ledger directory: %w", err)
	}

	suffix := storage.LedgerName("", computerID) + ledgerExt
	dates := make([]string, 0)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		date := strings.TrimSuffix(name, suffix)
		if _, err := time.Parse(storage.DateLayout, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)

	return dates, nil
}
