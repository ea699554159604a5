package core

import (
	"context"
	"log/slog"
	"time"

	"newswatch/internal/platforms"
	"newswatch/internal/sources"
	"newswatch/internal/storage"
	"newswatch/internal/types"
)

type PipelineConfig struct {
	DisplayLocation *time.Location
	Logger          *slog.Logger
}

// Pipeline moves one batch of symbols through fetch, dedup, persist and
// notify. Items are handled strictly one after another.
type Pipeline struct {
	fetcher  sources.Fetcher
	store    storage.Store
	notifier platforms.Notifier
	display  *time.Location
	logger   *slog.Logger
}

type BatchStats struct {
	Fetched    int
	New        int
	Duplicates int
	Failed     int
}

func (s *BatchStats) add(o BatchStats) {
	s.Fetched += o.Fetched
	s.New += o.New
	s.Duplicates += o.Duplicates
	s.Failed += o.Failed
}

func NewPipeline(fetcher sources.Fetcher, store storage.Store, notifier platforms.Notifier, cfg PipelineConfig) *Pipeline {
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		display:  cfg.DisplayLocation,
		logger:   cfg.Logger,
	}
}

func (p *Pipeline) ProcessBatch(ctx context.Context, symbols []string) BatchStats {
	items := p.fetcher.FetchBatch(ctx, symbols)
	stats := BatchStats{Fetched: len(items)}

	for i := range items {
		if ctx.Err() != nil {
			break
		}

		item := &items[i]
		isNew, err := p.processItem(ctx, item)
		switch {
		case err != nil:
			stats.Failed++
		case isNew:
			stats.New++
		default:
			stats.Duplicates++
		}
	}

	p.logger.Debug("Batch processed",
		"symbols", len(symbols),
		"fetched", stats.Fetched,
		"new", stats.New,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
	)
	return stats
}

// processItem abandons the item on any storage error so it is retried on a
// later cycle rather than notified without a record.
func (p *Pipeline) processItem(ctx context.Context, item *types.NewsItem) (bool, error) {
	exists, err := p.store.Exists(ctx, item)
	if err != nil {
		p.logger.Error("Failed to check item", "ticker", item.Ticker, "id", item.ID, "error", err)
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := p.store.Persist(ctx, item); err != nil {
		p.logger.Error("Failed to persist item", "ticker", item.Ticker, "id", item.ID, "error", err)
		return false, err
	}

	p.logger.Info("Stored new item", "ticker", item.Ticker, "id", item.ID, "headline", item.Headline)
	p.notifier.Send(ctx, platforms.FormatNews(item, p.display), item.ID)
	return true, nil
}
