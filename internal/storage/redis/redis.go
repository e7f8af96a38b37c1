package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/deskledger/internal/config"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client      *redis.Client
	ledgerStore *ledgerStore
	latchStore  *latchStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:      client,
		ledgerStore: &ledgerStore{client: client},
		latchStore:  &latchStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ledgers returns the LedgerStore implementation
func (s *Store) Ledgers() storage.LedgerStore {
	return s.ledgerStore
}

// Latches returns the LatchStore implementation
func (s *Store) Latches() storage.LatchStore {
	return s.latchStore
}

func ledgerKey(computerID, date string) string {
	return fmt.Sprintf("deskledger:ledger:%s:%s", storage.SafeName(computerID), date)
}

func ledgerIndexKey(computerID string) string {
	return fmt.Sprintf("deskledger:ledger:index:%s", storage.SafeName(computerID))
}

func latchKey(period string) string {
	return "deskledger:report:" + period
}
