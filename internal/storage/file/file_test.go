package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/deskledger/internal/storage"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func TestSaveWritesIndentedFileByConvention(t *testing.T) {
	store, dir := openTestStore(t)

	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	ledger := storage.NewDayLedger("2024-05-06", "desk-01", "maria")
	ledger.Sessions = append(ledger.Sessions, storage.Session{
		ID:    "s1",
		Start: start,
		End:   start.Add(15 * time.Minute),
	})

	if err := store.Ledgers().Save(context.Background(), ledger); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2024-05-06-desk-01.json"))
	if err != nil {
		t.Fatalf("read ledger file: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"date\": \"2024-05-06\"") {
		t.Errorf("expected indented JSON, got:\n%s", data)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode ledger file: %v", err)
	}
	sessions := doc["sessions"].([]any)
	if total := sessions[0].(map[string]any)["total_minutes"]; total != float64(15) {
		t.Errorf("expected derived total_minutes 15, got %v", total)
	}
}

func TestLoadRoundTripAndMissing(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Ledgers().Load(ctx, "2024-05-06", "desk-01"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ledger := storage.NewDayLedger("2024-05-06", "desk-01", "maria")
	ledger.Applications = append(ledger.Applications, storage.AppUsage{ProcessName: "code.exe", Minutes: 42})
	if err := store.Ledgers().Save(ctx, ledger); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Ledgers().Load(ctx, "2024-05-06", "desk-01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.FindApp("CODE.EXE") != 0 || loaded.Applications[0].Minutes != 42 {
		t.Fatalf("unexpected applications %+v", loaded.Applications)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	store, dir := openTestStore(t)

	path := filepath.Join(dir, "2024-05-06-desk-01.json")
	if err := os.WriteFile(path, []byte("{\"date\": "), 0600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, err := store.Ledgers().Load(context.Background(), "2024-05-06", "desk-01")
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestListDates(t *testing.T) {
	store, dir := openTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2024-05-07", "2024-05-05", "2024-05-06"} {
		if err := store.Ledgers().Save(ctx, storage.NewDayLedger(date, "desk-01", "maria")); err != nil {
			t.Fatalf("save %s: %v", date, err)
		}
	}
	_ = store.Ledgers().Save(ctx, storage.NewDayLedger("2024-05-08", "other-desk-01", "x"))
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600)

	dates, err := store.Ledgers().ListDates(ctx, "desk-01")
	if err != nil {
		t.Fatalf("list dates: %v", err)
	}
	want := []string{"2024-05-05", "2024-05-06", "2024-05-07"}
	if strings.Join(dates, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, dates)
	}
}

func TestLatchesPersistInDirectory(t *testing.T) {
	store, dir := openTestStore(t)

	claimed, err := store.Latches().Claim(context.Background(), storage.DailyLatch("desk-01", "2024-05-06"))
	if err != nil || !claimed {
		t.Fatalf("expected claim, got %v %v", claimed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, latchFile)); err != nil {
		t.Fatalf("expected latch database in ledger directory: %v", err)
	}
}

func TestDirectorySharedBetweenStores(t *testing.T) {
	ctx := context.Background()
	monitor, dir := openTestStore(t)

	reader, err := Open(dir)
	if err != nil {
		t.Fatalf("second open of %s: %v", dir, err)
	}
	defer reader.Close()

	if err := monitor.Ledgers().Save(ctx, storage.NewDayLedger("2024-05-06", "desk-01", "maria")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := reader.Ledgers().Load(ctx, "2024-05-06", "desk-01"); err != nil {
		t.Fatalf("load through second store: %v", err)
	}

	period := storage.DailyLatch("desk-01", "2024-05-06")
	if claimed, err := monitor.Latches().Claim(ctx, period); err != nil || !claimed {
		t.Fatalf("expected first claim, got %v %v", claimed, err)
	}
	sent, err := reader.Latches().Sent(ctx, period)
	if err != nil || !sent {
		t.Fatalf("expected second store to see the claim, got %v %v", sent, err)
	}
	if claimed, err := reader.Latches().Claim(ctx, period); err != nil || claimed {
		t.Fatalf("expected second claim to be refused, got %v %v", claimed, err)
	}
}
