package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"newswatch/internal/storage"
	"newswatch/internal/storage/memory"
	"newswatch/internal/types"
)

type failingStore struct {
	*memory.Store
	failExists  bool
	failPersist bool
}

func (s *failingStore) Exists(ctx context.Context, item *types.NewsItem) (bool, error) {
	if s.failExists {
		return false, errors.New("disk unavailable")
	}
	return s.Store.Exists(ctx, item)
}

func (s *failingStore) Persist(ctx context.Context, item *types.NewsItem) error {
	if s.failPersist {
		return errors.New("disk full")
	}
	return s.Store.Persist(ctx, item)
}

func TestProcessBatchDedupsWithinAndAcrossBatches(t *testing.T) {
	at := time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{items: map[string][]types.NewsItem{
		"AAPL": {newsAt("A1", "AAPL", at), newsAt("A1", "AAPL", at), newsAt("A2", "AAPL", at.Add(time.Minute))},
	}}
	store := memory.New(storage.Config{})
	notifier := &fakeNotifier{}
	p := NewPipeline(fetcher, store, notifier, PipelineConfig{})

	stats := p.ProcessBatch(context.Background(), []string{"AAPL"})
	if stats.New != 2 || stats.Duplicates != 1 {
		t.Errorf("first batch stats = %+v", stats)
	}

	stats = p.ProcessBatch(context.Background(), []string{"AAPL"})
	if stats.New != 0 || stats.Duplicates != 3 {
		t.Errorf("second batch stats = %+v", stats)
	}

	if got := len(notifier.Sent()); got != 2 {
		t.Errorf("sent %d notifications, want 2", got)
	}
	if got := store.Index()["AAPL"]; got != float64(at.Add(time.Minute).Unix()) {
		t.Errorf("index AAPL = %v", got)
	}
}

func TestProcessBatchAbandonsItemsOnStorageError(t *testing.T) {
	at := time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{items: map[string][]types.NewsItem{"AAPL": {newsAt("A1", "AAPL", at)}}}

	for _, store := range []*failingStore{
		{Store: memory.New(storage.Config{}), failExists: true},
		{Store: memory.New(storage.Config{}), failPersist: true},
	} {
		notifier := &fakeNotifier{}
		p := NewPipeline(fetcher, store, notifier, PipelineConfig{})

		stats := p.ProcessBatch(context.Background(), []string{"AAPL"})

		if stats.Failed != 1 || stats.New != 0 {
			t.Errorf("stats = %+v", stats)
		}
		if len(notifier.Sent()) != 0 {
			t.Error("item notified without a stored record")
		}
	}
}
