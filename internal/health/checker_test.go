package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"newswatch/internal/storage"
	"newswatch/internal/storage/memory"
	"newswatch/internal/types"
	"newswatch/internal/utils/utilstest"
)

type fakeFetcher struct {
	items map[string][]types.NewsItem
	calls [][]string
}

func (f *fakeFetcher) FetchOne(ctx context.Context, symbol string) []types.NewsItem {
	return f.items[symbol]
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, symbols []string) []types.NewsItem {
	f.calls = append(f.calls, symbols)
	var out []types.NewsItem
	for _, s := range symbols {
		out = append(out, f.items[s]...)
	}
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	pinned  []string
	editErr error
}

func (n *fakeNotifier) Send(ctx context.Context, message, correlationID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, message)
}

func (n *fakeNotifier) EditPinned(ctx context.Context, message, correlationID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pinned = append(n.pinned, message)
	return n.editErr
}

var checkTime = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

func items(ticker string, n int) []types.NewsItem {
	out := make([]types.NewsItem, n)
	for i := range out {
		out[i] = types.NewsItem{
			ID:       fmt.Sprintf("%s-%d", ticker, i),
			Ticker:   ticker,
			Datetime: float64(checkTime.Unix() - int64(i)),
			Headline: "headline",
			Source:   types.DefaultSource,
		}
	}
	return out
}

func persist(t *testing.T, store storage.Store, list []types.NewsItem) {
	t.Helper()
	for i := range list {
		if err := store.Persist(context.Background(), &list[i]); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}
}

func newTestChecker(fetcher *fakeFetcher, store storage.Store, notifier *fakeNotifier, tickers []string) (*Checker, *utilstest.FakeClock) {
	clock := utilstest.NewFakeClock(checkTime)
	return NewChecker(fetcher, store, notifier, Config{
		Tickers:    tickers,
		BatchSize:  2,
		BatchPause: time.Second,
		Clock:      clock,
	}), clock
}

func TestMatchPercentageAndClassify(t *testing.T) {
	tests := []struct {
		matched, total int
		wantPct        string
		want           Status
	}{
		{0, 0, "100.00", StatusHealthy},
		{10000, 10000, "100.00", StatusHealthy},
		{9800, 10000, "98.00", StatusHealthy},
		{9799, 10000, "97.99", StatusWarning},
		{9000, 10000, "90.00", StatusWarning},
		{8999, 10000, "89.99", StatusFailed},
		{0, 5, "0.00", StatusFailed},
		{49, 50, "98.00", StatusHealthy},
	}
	for _, tt := range tests {
		pct := MatchPercentage(tt.matched, tt.total)
		if got := pct.StringFixed(2); got != tt.wantPct {
			t.Errorf("MatchPercentage(%d, %d) = %s, want %s", tt.matched, tt.total, got, tt.wantPct)
		}
		if got := Classify(pct); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", pct, got, tt.want)
		}
	}

	if Classify(decimal.RequireFromString("97.999999")) != StatusWarning {
		t.Error("Classify() just below 98 should warn")
	}
}

func TestRunHealthy(t *testing.T) {
	store := memory.New(storage.Config{})
	aapl := items("AAPL", 3)
	persist(t, store, aapl)
	fetcher := &fakeFetcher{items: map[string][]types.NewsItem{"AAPL": aapl}}
	notifier := &fakeNotifier{}
	checker, clock := newTestChecker(fetcher, store, notifier, []string{"AAPL", "MSFT", "GOOG"})

	result, ok := checker.Run(context.Background())

	if !ok || result.Status != StatusHealthy {
		t.Fatalf("Run() = %+v, %v, want healthy", result, ok)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("healthy run sent %d alerts", len(notifier.sent))
	}
	if len(notifier.pinned) != 1 || !strings.Contains(notifier.pinned[0], "Healthy") {
		t.Errorf("pinned = %v", notifier.pinned)
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetch batches = %d, want 2", len(fetcher.calls))
	}
	if clock.Slept() != time.Second {
		t.Errorf("slept %v, want 1s between batches", clock.Slept())
	}
}

func TestRunNothingRefetchedIsHealthy(t *testing.T) {
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{}, memory.New(storage.Config{}), notifier, []string{"AAPL"})

	result, ok := checker.Run(context.Background())

	if !ok || result.Percentage.StringFixed(2) != "100.00" {
		t.Errorf("Run() = %+v, %v", result, ok)
	}
}

func TestRunWarningResendsUnmatched(t *testing.T) {
	store := memory.New(storage.Config{})
	all := items("AAPL", 20)
	persist(t, store, all[:19])
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{items: map[string][]types.NewsItem{"AAPL": all}}, store, notifier, []string{"AAPL"})

	result, ok := checker.Run(context.Background())

	if ok || result.Status != StatusWarning {
		t.Fatalf("Run() = %s, %v, want warning", result.Status, ok)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("sent %d messages, want 1 unmatched item and 1 warning", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "AAPL") {
		t.Errorf("first message should re-emit the item: %s", notifier.sent[0])
	}
	if !strings.Contains(notifier.sent[1], "95.00%") {
		t.Errorf("warning = %s", notifier.sent[1])
	}
	if !strings.Contains(notifier.pinned[0], "Warning") {
		t.Errorf("pinned = %s", notifier.pinned[0])
	}
}

func TestRunFailed(t *testing.T) {
	store := memory.New(storage.Config{})
	all := items("AAPL", 10)
	persist(t, store, all[:8])
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{items: map[string][]types.NewsItem{"AAPL": all}}, store, notifier, []string{"AAPL"})

	result, ok := checker.Run(context.Background())

	if ok || result.Status != StatusFailed {
		t.Fatalf("Run() = %s, %v, want failed", result.Status, ok)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "CRITICAL") {
		t.Errorf("sent = %v", notifier.sent)
	}
	if !strings.Contains(notifier.pinned[0], "Failed") {
		t.Errorf("pinned = %s", notifier.pinned[0])
	}
}

func TestRunRecordsPinnedFailureAsIncident(t *testing.T) {
	notifier := &fakeNotifier{editErr: errors.New("forbidden")}
	checker, _ := newTestChecker(&fakeFetcher{}, memory.New(storage.Config{}), notifier, []string{"AAPL"})
	checker.RecordIncident("left over from a previous check")

	result, ok := checker.Run(context.Background())

	if !ok {
		t.Error("pinned edit failure should not change the status")
	}
	if len(result.Incidents) != 1 || !strings.Contains(result.Incidents[0], "pinned summary") {
		t.Errorf("Incidents = %v", result.Incidents)
	}
}

func TestCheckMissingNewsEmpty(t *testing.T) {
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{}, memory.New(storage.Config{}), notifier, nil)

	report := checker.CheckMissingNews(context.Background())

	if !report.Empty {
		t.Error("expected empty report")
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "CRITICAL") {
		t.Errorf("sent = %v", notifier.sent)
	}
}

func TestCheckMissingNewsAggregatesStaleTickers(t *testing.T) {
	store := memory.New(storage.Config{})
	store.AdvanceTimestamp("AAPL", float64(checkTime.Add(-time.Hour).Unix()))
	store.AdvanceTimestamp("MSFT", float64(checkTime.Add(-7*time.Hour).Unix()))
	store.AdvanceTimestamp("GOOG", float64(checkTime.Add(-8*time.Hour).Unix()))
	store.AdvanceTimestamp("ZERO", 0)
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{}, store, notifier, nil)

	report := checker.CheckMissingNews(context.Background())

	if report.GloballyStale {
		t.Error("AAPL is fresh, index should not be globally stale")
	}
	if strings.Join(report.Stale, ",") != "GOOG,MSFT" {
		t.Errorf("Stale = %v", report.Stale)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d alerts, want exactly 1", len(notifier.sent))
	}
	for _, want := range []string{"GOOG", "MSFT", "holidays"} {
		if !strings.Contains(notifier.sent[0], want) {
			t.Errorf("alert missing %q: %s", want, notifier.sent[0])
		}
	}
	if len(checker.Incidents()) != 1 {
		t.Errorf("Incidents = %v", checker.Incidents())
	}
}

func TestCheckMissingNewsGloballyStale(t *testing.T) {
	store := memory.New(storage.Config{})
	store.AdvanceTimestamp("AAPL", float64(checkTime.Add(-25*time.Hour).Unix()))
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{}, store, notifier, nil)

	report := checker.CheckMissingNews(context.Background())

	if !report.GloballyStale {
		t.Error("expected globally stale")
	}
	if len(notifier.sent) != 2 {
		t.Errorf("sent %d alerts, want global and aggregated", len(notifier.sent))
	}
}

func TestCheckMissingNewsAllFresh(t *testing.T) {
	store := memory.New(storage.Config{})
	store.AdvanceTimestamp("AAPL", float64(checkTime.Add(-time.Minute).Unix()))
	notifier := &fakeNotifier{}
	checker, _ := newTestChecker(&fakeFetcher{}, store, notifier, nil)

	report := checker.CheckMissingNews(context.Background())

	if len(report.Stale) != 0 || len(notifier.sent) != 0 {
		t.Errorf("report = %+v, sent = %v", report, notifier.sent)
	}
}
