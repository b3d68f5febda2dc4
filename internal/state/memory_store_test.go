package state

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_RecordLifecycle(t *testing.T) {
	store := NewMemoryStore(100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetRecord("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRecord on empty store: err = %v, want ErrNotFound", err)
	}

	// UpdateRecord creates the record on first touch.
	rec, err := store.UpdateRecord("198.51.100.10", func(rec *ClientRecord) error {
		rec.Observe("Mozilla/5.0", "/products", "US", now)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if rec.TotalRequests != 1 || rec.SessionCount != 1 {
		t.Errorf("created record = %+v", rec)
	}

	got, err := store.GetRecord("198.51.100.10")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.UserAgents["Mozilla/5.0"] != 1 || got.Pages["/products"] != 1 || got.Countries["US"] != 1 {
		t.Errorf("persisted record lost observations: %+v", got)
	}

	// A second update sees the accumulated state.
	rec, err = store.UpdateRecord("198.51.100.10", func(rec *ClientRecord) error {
		rec.Observe("Mozilla/5.0", "/cart", "US", now.Add(time.Minute))
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if rec.TotalRequests != 2 || len(rec.Requests) != 2 {
		t.Errorf("update did not accumulate: %+v", rec)
	}

	if err := store.DeleteRecord("198.51.100.10"); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if _, err := store.GetRecord("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record survived deletion: err = %v", err)
	}
}

func TestMemoryStore_UpdateRecordPropagatesCallbackError(t *testing.T) {
	store := NewMemoryStore(100)
	sentinel := errors.New("mutation rejected")

	_, err := store.UpdateRecord("198.51.100.10", func(rec *ClientRecord) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	// A failed mutation must not create the record.
	if _, err := store.GetRecord("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed update persisted the record: err = %v", err)
	}
}

func TestMemoryStore_SerializationFidelity(t *testing.T) {
	store := NewMemoryStore(100)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	_, err := store.UpdateRecord("198.51.100.10", func(rec *ClientRecord) error {
		for i := 0; i < 8; i++ {
			rec.Observe("Mozilla/5.0", fmt.Sprintf("/page/%d", i), "US", start.Add(time.Duration(i)*time.Hour))
		}
		rec.HumanScore = 7.25
		rec.GeoConsistency = 10
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}

	got, err := store.GetRecord("198.51.100.10")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.HumanScore != 7.25 || got.GeoConsistency != 10 {
		t.Errorf("scores lost in round trip: %+v", got)
	}
	if got.SessionCount != 8 {
		t.Errorf("session count lost: %d", got.SessionCount)
	}
	if len(got.Requests) != 8 || !got.Requests[0].Equal(start) {
		t.Errorf("timestamps lost: %v", got.Requests)
	}
	if len(got.Pages) != 8 {
		t.Errorf("page histogram lost: %v", got.Pages)
	}
}

func TestMemoryStore_EvictsLeastRecentlySeen(t *testing.T) {
	store := NewMemoryStore(3)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("198.51.100.%d", i)
		_, err := store.UpdateRecord(id, func(rec *ClientRecord) error {
			rec.Observe("ua", "/", "US", start.Add(time.Duration(i)*time.Minute))
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateRecord(%s) error = %v", id, err)
		}
	}

	// The oldest client is gone, the other three remain.
	if _, err := store.GetRecord("198.51.100.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest record not evicted: err = %v", err)
	}
	for i := 1; i < 4; i++ {
		if _, err := store.GetRecord(fmt.Sprintf("198.51.100.%d", i)); err != nil {
			t.Errorf("recent record %d evicted: %v", i, err)
		}
	}

	records, err := store.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("tracked %d records, want 3", len(records))
	}
}

func TestMemoryStore_EvictionNeverDropsTheUpdatedClient(t *testing.T) {
	store := NewMemoryStore(1)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Seed a client with a future LastSeen, then write one with an older one.
	// The freshly written record must survive even though it is "older".
	_, err := store.UpdateRecord("198.51.100.1", func(rec *ClientRecord) error {
		rec.Observe("ua", "/", "US", start.Add(time.Hour))
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	_, err = store.UpdateRecord("198.51.100.2", func(rec *ClientRecord) error {
		rec.Observe("ua", "/", "US", start)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}

	if _, err := store.GetRecord("198.51.100.2"); err != nil {
		t.Errorf("just-updated record was evicted: %v", err)
	}
	if _, err := store.GetRecord("198.51.100.1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bound not enforced: err = %v", err)
	}
}

func TestMemoryStore_BlockLifecycle(t *testing.T) {
	store := NewMemoryStore(100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetBlock("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBlock on empty store: err = %v", err)
	}

	entry := &BlockEntry{
		ClientID:     "198.51.100.10",
		Reason:       "burst limit exceeded",
		Type:         ViolationBurstLimit,
		BlockedAt:    now,
		BlockedUntil: now.Add(5 * time.Minute),
		Multiplier:   1.0,
	}
	if err := store.PutBlock(entry); err != nil {
		t.Fatalf("PutBlock() error = %v", err)
	}

	got, err := store.GetBlock("198.51.100.10")
	if err != nil {
		t.Fatalf("GetBlock() error = %v", err)
	}
	if got.Type != ViolationBurstLimit || !got.BlockedUntil.Equal(entry.BlockedUntil) {
		t.Errorf("block round trip: %+v", got)
	}

	// Overwrite replaces wholesale.
	entry.Type = ViolationBotDetected
	entry.BlockedUntil = now.Add(30 * time.Minute)
	if err := store.PutBlock(entry); err != nil {
		t.Fatalf("PutBlock() overwrite error = %v", err)
	}
	got, err = store.GetBlock("198.51.100.10")
	if err != nil {
		t.Fatalf("GetBlock() error = %v", err)
	}
	if got.Type != ViolationBotDetected {
		t.Errorf("overwrite did not replace: %+v", got)
	}

	blocks, err := store.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Errorf("listed %d blocks, want 1", len(blocks))
	}

	if err := store.DeleteBlock("198.51.100.10"); err != nil {
		t.Fatalf("DeleteBlock() error = %v", err)
	}
	if _, err := store.GetBlock("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Errorf("block survived deletion: err = %v", err)
	}
}

func TestMemoryStore_WhitelistLifecycle(t *testing.T) {
	store := NewMemoryStore(100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	entry := &WhitelistEntry{
		ClientID:       "198.51.100.10",
		AddedAt:        now,
		Reason:         "sustained human-like behavior",
		Sessions:       6,
		DistinctPages:  14,
		HumanScore:     9.1,
		GeoConsistency: 10,
		Country:        "US",
	}
	if err := store.PutWhitelist(entry); err != nil {
		t.Fatalf("PutWhitelist() error = %v", err)
	}

	got, err := store.GetWhitelist("198.51.100.10")
	if err != nil {
		t.Fatalf("GetWhitelist() error = %v", err)
	}
	if got.Sessions != 6 || got.HumanScore != 9.1 || got.Country != "US" {
		t.Errorf("whitelist round trip: %+v", got)
	}

	entries, err := store.ListWhitelist()
	if err != nil {
		t.Fatalf("ListWhitelist() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("listed %d entries, want 1", len(entries))
	}

	if err := store.DeleteWhitelist("198.51.100.10"); err != nil {
		t.Fatalf("DeleteWhitelist() error = %v", err)
	}
	if _, err := store.GetWhitelist("198.51.100.10"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry survived deletion: err = %v", err)
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore(50)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.UpdateRecord(fmt.Sprintf("198.51.100.%d", i), func(rec *ClientRecord) error {
			rec.Observe("ua", "/", "US", now)
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateRecord() error = %v", err)
		}
	}
	store.PutBlock(&BlockEntry{ClientID: "198.51.100.0", Type: ViolationBurstLimit, BlockedUntil: now.Add(time.Minute)})
	store.PutWhitelist(&WhitelistEntry{ClientID: "198.51.100.1", AddedAt: now})

	stats := store.Stats()
	if stats["tracked_clients"] != 3 {
		t.Errorf("tracked_clients = %v", stats["tracked_clients"])
	}
	if stats["max_tracked_clients"] != 50 {
		t.Errorf("max_tracked_clients = %v", stats["max_tracked_clients"])
	}
	if stats["active_blocks"] != 1 {
		t.Errorf("active_blocks = %v", stats["active_blocks"])
	}
	if stats["whitelist_size"] != 1 {
		t.Errorf("whitelist_size = %v", stats["whitelist_size"])
	}
}
