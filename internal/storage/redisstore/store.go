package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"newswatch/internal/storage"
	"newswatch/internal/types"
)

const (
	TypeRedis     = "redis"
	DefaultPrefix = "newswatch"
)

func init() {
	storage.RegisterFactory(TypeRedis, func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return New(ctx, cfg)
	})
}

// Store maps each item to one key and keeps the ticker index in a hash.
// Key presence is the dedup oracle.
type Store struct {
	client    *redis.Client
	prefix    string
	partition storage.Partition
	index     *storage.IndexState
	logger    *slog.Logger
}

func New(ctx context.Context, cfg storage.Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := newStore(client, cfg)
	s.logger.Info("Initializing storage", "type", TypeRedis, "addr", addr, "prefix", s.prefix)

	if _, err := s.LoadIndex(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return s, nil
}

func newStore(client *redis.Client, cfg storage.Config) *Store {
	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	partition := cfg.Partition
	if partition == "" {
		partition = storage.PartitionDateTicker
	}

	return &Store{
		client:    client,
		prefix:    prefix,
		partition: partition,
		index:     storage.NewIndexState(),
		logger:    cfg.GetLogger(),
	}
}

func (s *Store) ItemKey(item *types.NewsItem) string {
	return s.prefix + ":item:" + storage.ItemKey(item, s.partition, ":")
}

func (s *Store) IndexKey() string {
	return s.prefix + ":ticker_timestamps"
}

func (s *Store) Exists(ctx context.Context, item *types.NewsItem) (bool, error) {
	n, err := s.client.Exists(ctx, s.ItemKey(item)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Persist(ctx context.Context, item *types.NewsItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := s.client.Set(ctx, s.ItemKey(item), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store item: %w", err)
	}

	s.AdvanceTimestamp(item.Ticker, item.Datetime)
	if err := s.SaveIndex(ctx); err != nil {
		s.logger.Error("Error saving ticker index", "ticker", item.Ticker, "error", err)
	}

	return nil
}

func (s *Store) AdvanceTimestamp(ticker string, ts float64) {
	s.index.Advance(ticker, ts)
}

func (s *Store) LoadIndex(ctx context.Context) (types.TimestampIndex, error) {
	values, err := s.client.HGetAll(ctx, s.IndexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read ticker index: %w", err)
	}

	idx, err := parseIndex(values)
	if err != nil {
		return nil, err
	}

	s.index.Replace(idx)
	return s.index.Snapshot(), nil
}

func (s *Store) SaveIndex(ctx context.Context) error {
	fields := formatIndex(s.index.Snapshot())

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.IndexKey())
		if len(fields) > 0 {
			pipe.HSet(ctx, s.IndexKey(), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write ticker index: %w", err)
	}
	return nil
}

func (s *Store) Index() types.TimestampIndex {
	return s.index.Snapshot()
}

func (s *Store) Wipe(ctx context.Context) error {
	s.logger.Warn("Wiping storage", "type", TypeRedis, "prefix", s.prefix)

	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":item:*", 500).Result()
		if err != nil {
			return fmt.Errorf("failed to scan items: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete items: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Info("Deleted stored items", "count", deleted)
	s.index.Reset()
	return s.SaveIndex(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func parseIndex(values map[string]string) (types.TimestampIndex, error) {
	idx := make(types.TimestampIndex, len(values))
	for ticker, raw := range values {
		ts, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp for %s: %w", ticker, err)
		}
		idx[ticker] = ts
	}
	return idx, nil
}

func formatIndex(idx types.TimestampIndex) map[string]interface{} {
	fields := make(map[string]interface{}, len(idx))
	for ticker, ts := range idx {
		fields[ticker] = strconv.FormatFloat(ts, 'f', -1, 64)
	}
	return fields
}
