package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"admission-guard/internal/storage"
)

// BadgerStore persists all guard state in an embedded badger engine. Each
// per-client document is written as one value, so a crash mid-update cannot
// leave the request history and the scores inconsistent.
//
// The store also keeps an in-memory last-seen index of tracked clients and
// evicts the least-recently-seen record once maxTracked is exceeded.
type BadgerStore struct {
	engine     storage.Engine
	maxTracked int

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

var _ Store = (*BadgerStore)(nil)

func NewBadgerStore(engine storage.Engine, maxTracked int) (*BadgerStore, error) {
	s := &BadgerStore{
		engine:     engine,
		maxTracked: maxTracked,
		lastSeen:   make(map[string]time.Time),
	}

	// Rebuild the eviction index from whatever survived the last run.
	existing, err := engine.List([]byte(recordPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing records: %w", err)
	}
	for key, value := range existing {
		var rec ClientRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			continue // skip corrupt entries rather than refusing to start
		}
		s.lastSeen[strings.TrimPrefix(key, recordPrefix)] = rec.LastSeen
	}

	return s, nil
}

func (s *BadgerStore) GetRecord(clientID string) (*ClientRecord, error) {
	data, err := s.engine.Get(recordKey(clientID))
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", clientID, err)
	}

	var rec ClientRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", clientID, err)
	}
	return &rec, nil
}

func (s *BadgerStore) UpdateRecord(clientID string, fn func(rec *ClientRecord) error) (*ClientRecord, error) {
	var updated *ClientRecord

	err := s.engine.Update(recordKey(clientID), func(current []byte, found bool) ([]byte, error) {
		rec := NewClientRecord(clientID, time.Time{})
		if found {
			if err := json.Unmarshal(current, rec); err != nil {
				return nil, fmt.Errorf("failed to decode record %s: %w", clientID, err)
			}
		}

		if err := fn(rec); err != nil {
			return nil, err
		}

		updated = rec
		return json.Marshal(rec)
	})
	if err != nil {
		return nil, err
	}

	s.touch(clientID, updated.LastSeen)
	return updated, nil
}

func (s *BadgerStore) DeleteRecord(clientID string) error {
	s.mu.Lock()
	delete(s.lastSeen, clientID)
	s.mu.Unlock()
	return s.engine.Delete(recordKey(clientID))
}

func (s *BadgerStore) ListRecords() ([]*ClientRecord, error) {
	items, err := s.engine.List([]byte(recordPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*ClientRecord, 0, len(items))
	for _, value := range items {
		var rec ClientRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (s *BadgerStore) GetBlock(clientID string) (*BlockEntry, error) {
	data, err := s.engine.Get(blockKey(clientID))
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", clientID, err)
	}

	var entry BlockEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", clientID, err)
	}
	return &entry, nil
}

func (s *BadgerStore) PutBlock(entry *BlockEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode block %s: %w", entry.ClientID, err)
	}
	return s.engine.Put(blockKey(entry.ClientID), data)
}

func (s *BadgerStore) DeleteBlock(clientID string) error {
	return s.engine.Delete(blockKey(clientID))
}

func (s *BadgerStore) ListBlocks() ([]*BlockEntry, error) {
	items, err := s.engine.List([]byte(blockPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}

	blocks := make([]*BlockEntry, 0, len(items))
	for _, value := range items {
		var entry BlockEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			continue
		}
		blocks = append(blocks, &entry)
	}
	return blocks, nil
}

func (s *BadgerStore) GetWhitelist(clientID string) (*WhitelistEntry, error) {
	data, err := s.engine.Get(whitelistKey(clientID))
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist entry %s: %w", clientID, err)
	}

	var entry WhitelistEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist entry %s: %w", clientID, err)
	}
	return &entry, nil
}

func (s *BadgerStore) PutWhitelist(entry *WhitelistEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode whitelist entry %s: %w", entry.ClientID, err)
	}
	return s.engine.Put(whitelistKey(entry.ClientID), data)
}

func (s *BadgerStore) DeleteWhitelist(clientID string) error {
	return s.engine.Delete(whitelistKey(clientID))
}

func (s *BadgerStore) ListWhitelist() ([]*WhitelistEntry, error) {
	items, err := s.engine.List([]byte(whitelistPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}

	entries := make([]*WhitelistEntry, 0, len(items))
	for _, value := range items {
		var entry WhitelistEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *BadgerStore) Stats() map[string]interface{} {
	s.mu.Lock()
	tracked := len(s.lastSeen)
	s.mu.Unlock()

	stats := s.engine.Stats()
	stats["tracked_clients"] = tracked
	stats["max_tracked_clients"] = s.maxTracked
	return stats
}

func (s *BadgerStore) Close() error {
	return s.engine.Close()
}

// touch records a client's last activity and evicts the least-recently-seen
// record when the tracked set outgrows the configured bound.
func (s *BadgerStore) touch(clientID string, lastSeen time.Time) {
	s.mu.Lock()
	s.lastSeen[clientID] = lastSeen

	var evict string
	if len(s.lastSeen) > s.maxTracked {
		var oldest time.Time
		for id, seen := range s.lastSeen {
			if id == clientID {
				continue
			}
			if evict == "" || seen.Before(oldest) {
				evict = id
				oldest = seen
			}
		}
		if evict != "" {
			delete(s.lastSeen, evict)
		}
	}
	s.mu.Unlock()

	if evict != "" {
		// Best effort: a failed eviction write only delays the bound.
		_ = s.engine.Delete(recordKey(evict))
	}
}
