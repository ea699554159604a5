// Package memory is a process-local Store for dry runs and tests. Nothing
// survives a restart.
package memory

import (
	"context"
	"log/slog"

	"newswatch/internal/cache"
	"newswatch/internal/storage"
	"newswatch/internal/types"
)

const TypeMemory = "memory"

func init() {
	storage.RegisterFactory(TypeMemory, func(_ context.Context, cfg storage.Config) (storage.Store, error) {
		return New(cfg), nil
	})
}

type Store struct {
	items     *cache.Cache[*types.NewsItem, types.NewsItem]
	partition storage.Partition
	index     *storage.IndexState
	saved     types.TimestampIndex
	logger    *slog.Logger
}

func New(cfg storage.Config) *Store {
	partition := cfg.Partition
	if partition == "" {
		partition = storage.PartitionDateTicker
	}

	keyFn := func(item *types.NewsItem) string {
		return storage.ItemKey(item, partition, "/")
	}

	return &Store{
		items:     cache.NewCache[*types.NewsItem, types.NewsItem](cache.CacheConfig{TTL: cache.NoExpiration, Logger: cfg.Logger}, keyFn),
		partition: partition,
		index:     storage.NewIndexState(),
		saved:     make(types.TimestampIndex),
		logger:    cfg.GetLogger(),
	}
}

func (s *Store) Exists(_ context.Context, item *types.NewsItem) (bool, error) {
	return s.items.Has(item), nil
}

func (s *Store) Persist(ctx context.Context, item *types.NewsItem) error {
	s.items.Set(item, *item)
	s.AdvanceTimestamp(item.Ticker, item.Datetime)
	return s.SaveIndex(ctx)
}

func (s *Store) AdvanceTimestamp(ticker string, ts float64) {
	s.index.Advance(ticker, ts)
}

func (s *Store) LoadIndex(_ context.Context) (types.TimestampIndex, error) {
	s.index.Replace(s.saved)
	return s.index.Snapshot(), nil
}

func (s *Store) SaveIndex(_ context.Context) error {
	s.saved = s.index.Snapshot()
	return nil
}

func (s *Store) Index() types.TimestampIndex {
	return s.index.Snapshot()
}

func (s *Store) Wipe(ctx context.Context) error {
	s.logger.Warn("Wiping storage", "type", TypeMemory, "items", s.items.Len())
	s.items.Clear()
	s.index.Reset()
	return s.SaveIndex(ctx)
}

func (s *Store) Close() error {
	s.items.Clear()
	return nil
}
