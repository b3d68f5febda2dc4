package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps guard state in Redis so several guard instances can
// share one view of blocks, records and the whitelist. Per-client
// read-modify-write uses WATCH/MULTI, retried on contention.
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	timeout    time.Duration
	maxTracked int
}

var _ Store = (*RedisStore)(nil)

// updateRetries bounds optimistic transaction retries under contention.
const updateRetries = 5

type RedisOptions struct {
	Address    string
	Password   string
	Database   int
	KeyPrefix  string
	Timeout    time.Duration
	MaxTracked int
}

func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.Database,
	})

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Address, err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "guard"
	}

	return &RedisStore{
		client:     client,
		keyPrefix:  prefix,
		timeout:    timeout,
		maxTracked: opts.MaxTracked,
	}, nil
}

func (s *RedisStore) key(kind, clientID string) string {
	return fmt.Sprintf("%s:%s%s", s.keyPrefix, kind, clientID)
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + ":records:index"
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) GetRecord(clientID string) (*ClientRecord, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	data, err := s.client.Get(ctx, s.key(recordPrefix, clientID)).Bytes()
	if err == redis.Nil {
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

func (s *RedisStore) UpdateRecord(clientID string, fn func(rec *ClientRecord) error) (*ClientRecord, error) {
	key := s.key(recordPrefix, clientID)
	var updated *ClientRecord

	txn := func(tx *redis.Tx) error {
		ctx, cancel := s.ctx()
		defer cancel()

		rec := NewClientRecord(clientID, time.Time{})
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read record %s: %w", clientID, err)
		}
		if err == nil {
			if err := json.Unmarshal(data, rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", clientID, err)
			}
		}

		if err := fn(rec); err != nil {
			return err
		}

		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", clientID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.ZAdd(ctx, s.indexKey(), &redis.Z{
				Score:  float64(rec.LastSeen.UnixNano()),
				Member: clientID,
			})
			return nil
		})
		if err != nil {
			return err
		}

		updated = rec
		return nil
	}

	ctx, cancel := s.ctx()
	defer cancel()

	var err error
	for i := 0; i < updateRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.evict()
	return updated, nil
}

func (s *RedisStore) DeleteRecord(clientID string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(recordPrefix, clientID))
	pipe.ZRem(ctx, s.indexKey(), clientID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListRecords() ([]*ClientRecord, error) {
	ids, err := s.scanIDs(recordPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]*ClientRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRecord(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) GetBlock(clientID string) (*BlockEntry, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	data, err := s.client.Get(ctx, s.key(blockPrefix, clientID)).Bytes()
	if err == redis.Nil {
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

func (s *RedisStore) PutBlock(entry *BlockEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode block %s: %w", entry.ClientID, err)
	}

	ctx, cancel := s.ctx()
	defer cancel()

	// Keep the key a little past its logical expiry; removal stays lazy.
	ttl := time.Until(entry.BlockedUntil) + time.Hour
	return s.client.Set(ctx, s.key(blockPrefix, entry.ClientID), data, ttl).Err()
}

func (s *RedisStore) DeleteBlock(clientID string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Del(ctx, s.key(blockPrefix, clientID)).Err()
}

func (s *RedisStore) ListBlocks() ([]*BlockEntry, error) {
	ids, err := s.scanIDs(blockPrefix)
	if err != nil {
		return nil, err
	}

	blocks := make([]*BlockEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.GetBlock(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, entry)
	}
	return blocks, nil
}

func (s *RedisStore) GetWhitelist(clientID string) (*WhitelistEntry, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	data, err := s.client.Get(ctx, s.key(whitelistPrefix, clientID)).Bytes()
	if err == redis.Nil {
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

func (s *RedisStore) PutWhitelist(entry *WhitelistEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode whitelist entry %s: %w", entry.ClientID, err)
	}

	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Set(ctx, s.key(whitelistPrefix, entry.ClientID), data, 0).Err()
}

func (s *RedisStore) DeleteWhitelist(clientID string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Del(ctx, s.key(whitelistPrefix, clientID)).Err()
}

func (s *RedisStore) ListWhitelist() ([]*WhitelistEntry, error) {
	ids, err := s.scanIDs(whitelistPrefix)
	if err != nil {
		return nil, err
	}

	entries := make([]*WhitelistEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.GetWhitelist(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) Stats() map[string]interface{} {
	ctx, cancel := s.ctx()
	defer cancel()

	tracked, _ := s.client.ZCard(ctx, s.indexKey()).Result()
	return map[string]interface{}{
		"engine":              "redis",
		"tracked_clients":     tracked,
		"max_tracked_clients": s.maxTracked,
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) scanIDs(kind string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	pattern := fmt.Sprintf("%s:%s*", s.keyPrefix, kind)
	prefixLen := len(fmt.Sprintf("%s:%s", s.keyPrefix, kind))

	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s keys: %w", kind, err)
		}
		for _, key := range keys {
			ids = append(ids, key[prefixLen:])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// evict trims the tracked set to maxTracked, oldest last-seen first.
func (s *RedisStore) evict() {
	if s.maxTracked <= 0 {
		return
	}

	ctx, cancel := s.ctx()
	defer cancel()

	count, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil || count <= int64(s.maxTracked) {
		return
	}

	overflow := count - int64(s.maxTracked)
	victims, err := s.client.ZRange(ctx, s.indexKey(), 0, overflow-1).Result()
	if err != nil || len(victims) == 0 {
		return
	}

	pipe := s.client.TxPipeline()
	for _, id := range victims {
		pipe.Del(ctx, s.key(recordPrefix, id))
		pipe.ZRem(ctx, s.indexKey(), id)
	}
	_, _ = pipe.Exec(ctx)
}
