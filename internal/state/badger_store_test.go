package state

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"admission-guard/internal/storage"
)

func newTestBadgerStore(t *testing.T, maxTracked int) *BadgerStore {
	t.Helper()
	engine, err := storage.NewBadgerEngine(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory engine: %v", err)
	}
	store, err := NewBadgerStore(engine, maxTracked)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_RecordRoundTrip(t *testing.T) {
	store := newTestBadgerStore(t, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetRecord("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRecord on empty store: err = %v, want ErrNotFound", err)
	}

	_, err := store.UpdateRecord("198.51.100.10", func(rec *ClientRecord) error {
		rec.Observe("Mozilla/5.0", "/products", "US", now)
		rec.HumanScore = 6.5
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}

	got, err := store.GetRecord("198.51.100.10")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.TotalRequests != 1 || got.SessionCount != 1 || got.HumanScore != 6.5 {
		t.Errorf("persisted record = %+v", got)
	}
	if got.Countries["US"] != 1 {
		t.Errorf("country histogram lost: %v", got.Countries)
	}
}

func TestBadgerStore_UpdateIsReadModifyWrite(t *testing.T) {
	store := newTestBadgerStore(t, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.UpdateRecord("198.51.100.10", func(rec *ClientRecord) error {
			rec.Observe("ua", "/", "US", now.Add(time.Duration(i)*time.Second))
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateRecord() error = %v", err)
		}
	}

	got, err := store.GetRecord("198.51.100.10")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.TotalRequests != 5 || len(got.Requests) != 5 {
		t.Errorf("updates lost: %+v", got)
	}
}

func TestBadgerStore_RebuildsIndexOnOpen(t *testing.T) {
	engine, err := storage.NewBadgerEngine(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory engine: %v", err)
	}
	defer engine.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first, err := NewBadgerStore(engine, 100)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := first.UpdateRecord(fmt.Sprintf("198.51.100.%d", i), func(rec *ClientRecord) error {
			rec.Observe("ua", "/", "US", now)
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateRecord() error = %v", err)
		}
	}

	// A second store over the same engine must recover the tracked set.
	second, err := NewBadgerStore(engine, 100)
	if err != nil {
		t.Fatalf("NewBadgerStore() reopen error = %v", err)
	}
	stats := second.Stats()
	if stats["tracked_clients"] != 3 {
		t.Errorf("tracked_clients after rebuild = %v, want 3", stats["tracked_clients"])
	}
}

func TestBadgerStore_EvictsLeastRecentlySeen(t *testing.T) {
	store := newTestBadgerStore(t, 2)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("198.51.100.%d", i)
		_, err := store.UpdateRecord(id, func(rec *ClientRecord) error {
			rec.Observe("ua", "/", "US", now.Add(time.Duration(i)*time.Minute))
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateRecord(%s) error = %v", id, err)
		}
	}

	if _, err := store.GetRecord("198.51.100.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest record not evicted: err = %v", err)
	}
	for i := 1; i < 3; i++ {
		if _, err := store.GetRecord(fmt.Sprintf("198.51.100.%d", i)); err != nil {
			t.Errorf("recent record %d evicted: %v", i, err)
		}
	}
}

func TestBadgerStore_BlocksAndWhitelistUnaffectedByEviction(t *testing.T) {
	store := newTestBadgerStore(t, 1)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutBlock(&BlockEntry{
		ClientID:     "198.51.100.0",
		Type:         ViolationBurstLimit,
		BlockedAt:    now,
		BlockedUntil: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("PutBlock() error = %v", err)
	}
	if err := store.PutWhitelist(&WhitelistEntry{ClientID: "198.51.100.0", AddedAt: now}); err != nil {
		t.Fatalf("PutWhitelist() error = %v", err)
	}

	// Push two records through the single-slot tracked set.
	for i := 1; i <= 2; i++ {
		_, err := store.UpdateRecord(fmt.Sprintf("198.51.100.%d", i), func(rec *ClientRecord) error {
			rec.Observe("ua", "/", "US", now.Add(time.Duration(i)*time.Minute))
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateRecord() error = %v", err)
		}
	}

	if _, err := store.GetBlock("198.51.100.0"); err != nil {
		t.Errorf("block evicted alongside records: %v", err)
	}
	if _, err := store.GetWhitelist("198.51.100.0"); err != nil {
		t.Errorf("whitelist entry evicted alongside records: %v", err)
	}
}

func TestBadgerStore_BlockLifecycle(t *testing.T) {
	store := newTestBadgerStore(t, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	entry := &BlockEntry{
		ClientID:     "198.51.100.10",
		Reason:       "automation tooling detected",
		Type:         ViolationBotDetected,
		BlockedAt:    now,
		BlockedUntil: now.Add(30 * time.Minute),
		Multiplier:   1.0,
	}
	if err := store.PutBlock(entry); err != nil {
		t.Fatalf("PutBlock() error = %v", err)
	}

	got, err := store.GetBlock("198.51.100.10")
	if err != nil {
		t.Fatalf("GetBlock() error = %v", err)
	}
	if got.Type != ViolationBotDetected || !got.BlockedUntil.Equal(entry.BlockedUntil) {
		t.Errorf("block round trip: %+v", got)
	}

	blocks, err := store.ListBlocks()
	if err != nil || len(blocks) != 1 {
		t.Errorf("ListBlocks() = %d entries, err = %v", len(blocks), err)
	}

	if err := store.DeleteBlock("198.51.100.10"); err != nil {
		t.Fatalf("DeleteBlock() error = %v", err)
	}
	if _, err := store.GetBlock("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Errorf("block survived deletion: err = %v", err)
	}
}

func TestBadgerStore_WhitelistLifecycle(t *testing.T) {
	store := newTestBadgerStore(t, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	entry := &WhitelistEntry{
		ClientID:       "198.51.100.10",
		AddedAt:        now,
		Reason:         "sustained human-like behavior",
		Sessions:       7,
		DistinctPages:  20,
		HumanScore:     9.4,
		GeoConsistency: 10,
		Country:        "DE",
	}
	if err := store.PutWhitelist(entry); err != nil {
		t.Fatalf("PutWhitelist() error = %v", err)
	}

	got, err := store.GetWhitelist("198.51.100.10")
	if err != nil {
		t.Fatalf("GetWhitelist() error = %v", err)
	}
	if got.Sessions != 7 || got.Country != "DE" || !got.AddedAt.Equal(now) {
		t.Errorf("whitelist round trip: %+v", got)
	}

	entries, err := store.ListWhitelist()
	if err != nil || len(entries) != 1 {
		t.Errorf("ListWhitelist() = %d entries, err = %v", len(entries), err)
	}

	if err := store.DeleteWhitelist("198.51.100.10"); err != nil {
		t.Fatalf("DeleteWhitelist() error = %v", err)
	}
	if _, err := store.GetWhitelist("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry survived deletion: err = %v", err)
	}
}
