package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps all state in process memory. It round-trips every
// document through JSON so it behaves exactly like the durable backends,
// which keeps tests honest about serialization.
type MemoryStore struct {
	mu         sync.Mutex
	maxTracked int
	records    map[string][]byte
	blocks     map[string][]byte
	whitelist  map[string][]byte
	lastSeen   map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxTracked int) *MemoryStore {
	if maxTracked <= 0 {
		maxTracked = 10000
	}
	return &MemoryStore{
		maxTracked: maxTracked,
		records:    make(map[string][]byte),
		blocks:     make(map[string][]byte),
		whitelist:  make(map[string][]byte),
		lastSeen:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) GetRecord(clientID string) (*ClientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[clientID]
	if !ok {
		return nil, ErrNotFound
	}

	var rec ClientRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", clientID, err)
	}
	return &rec, nil
}

func (s *MemoryStore) UpdateRecord(clientID string, fn func(rec *ClientRecord) error) (*ClientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := NewClientRecord(clientID, time.Time{})
	if data, ok := s.records[clientID]; ok {
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", clientID, err)
		}
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", clientID, err)
	}
	s.records[clientID] = data
	s.lastSeen[clientID] = rec.LastSeen
	s.evictLocked(clientID)

	return rec, nil
}

func (s *MemoryStore) DeleteRecord(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, clientID)
	delete(s.lastSeen, clientID)
	return nil
}

func (s *MemoryStore) ListRecords() ([]*ClientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*ClientRecord, 0, len(s.records))
	for _, data := range s.records {
		var rec ClientRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (s *MemoryStore) GetBlock(clientID string) (*BlockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blocks[clientID]
	if !ok {
		return nil, ErrNotFound
	}

	var entry BlockEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", clientID, err)
	}
	return &entry, nil
}

func (s *MemoryStore) PutBlock(entry *BlockEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode block %s: %w", entry.ClientID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[entry.ClientID] = data
	return nil
}

func (s *MemoryStore) DeleteBlock(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, clientID)
	return nil
}

func (s *MemoryStore) ListBlocks() ([]*BlockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := make([]*BlockEntry, 0, len(s.blocks))
	for _, data := range s.blocks {
		var entry BlockEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		blocks = append(blocks, &entry)
	}
	return blocks, nil
}

func (s *MemoryStore) GetWhitelist(clientID string) (*WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.whitelist[clientID]
	if !ok {
		return nil, ErrNotFound
	}

	var entry WhitelistEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist entry %s: %w", clientID, err)
	}
	return &entry, nil
}

func (s *MemoryStore) PutWhitelist(entry *WhitelistEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode whitelist entry %s: %w", entry.ClientID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist[entry.ClientID] = data
	return nil
}

func (s *MemoryStore) DeleteWhitelist(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whitelist, clientID)
	return nil
}

func (s *MemoryStore) ListWhitelist() ([]*WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*WhitelistEntry, 0, len(s.whitelist))
	for _, data := range s.whitelist {
		var entry WhitelistEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"tracked_clients":     len(s.records),
		"max_tracked_clients": s.maxTracked,
		"active_blocks":       len(s.blocks),
		"whitelist_size":      len(s.whitelist),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

// evictLocked removes the least-recently-seen record when the tracked set
// exceeds the bound. Caller holds s.mu.
func (s *MemoryStore) evictLocked(keep string) {
	if len(s.records) <= s.maxTracked {
		return
	}

	var evict string
	var oldest time.Time
	for id, seen := range s.lastSeen {
		if id == keep {
			continue
		}
		if evict == "" || seen.Before(oldest) {
			evict = id
			oldest = seen
		}
	}
	if evict != "" {
		delete(s.records, evict)
		delete(s.lastSeen, evict)
	}
}
