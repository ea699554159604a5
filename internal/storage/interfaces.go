package storage

import (
	"context"
	"log/slog"

	"newswatch/internal/types"
)

// Store is the dedup authority. Exists answers "already processed" from the
// persisted records alone; the timestamp index is only a freshness summary.
//
// Callers own the exists-then-persist step. Implementations guard against
// the same item being fetched twice, not against concurrent writers, and
// must not be shared between processes.
type Store interface {
	Exists(ctx context.Context, item *types.NewsItem) (bool, error)
	// Persist records item, advances its ticker's timestamp and rewrites the
	// whole index. It does not re-check existence.
	Persist(ctx context.Context, item *types.NewsItem) error
	AdvanceTimestamp(ticker string, ts float64)
	LoadIndex(ctx context.Context) (types.TimestampIndex, error)
	SaveIndex(ctx context.Context) error
	// Index returns a copy of the in-memory ticker index.
	Index() types.TimestampIndex
	// Wipe drops every record and empties the index. It cannot be undone.
	Wipe(ctx context.Context) error
	Close() error
}

type Partition string

const (
	PartitionDateTicker Partition = "date_ticker"
	PartitionTickerDate Partition = "ticker_date"
)

type Config struct {
	Type        string
	Path        string
	IndexPath   string
	Partition   Partition
	AtomicIndex bool
	RedisAddr   string
	RedisPrefix string
	Logger      *slog.Logger
}

func (c Config) GetLogger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
