package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"newswatch/internal/health"
	"newswatch/internal/market"
	"newswatch/internal/sources"
	"newswatch/internal/storage"
	"newswatch/internal/storage/memory"
	"newswatch/internal/types"
	"newswatch/internal/utils/utilstest"
)

type fakeFetcher struct {
	mu      sync.Mutex
	items   map[string][]types.NewsItem
	batches int
	panics  bool
}

func (f *fakeFetcher) FetchOne(ctx context.Context, symbol string) []types.NewsItem {
	return f.FetchBatch(ctx, []string{symbol})
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, symbols []string) []types.NewsItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("feed exploded")
	}
	f.batches++
	var out []types.NewsItem
	for _, s := range symbols {
		out = append(out, f.items[s]...)
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string
	pinned []string
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
	return nil
}

func (n *fakeNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func (n *fakeNotifier) Pinned() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.pinned...)
}

type harness struct {
	scheduler *Scheduler
	store     storage.Store
	fetcher   *fakeFetcher
	notifier  *fakeNotifier
	clock     *utilstest.FakeClock
}

func eastern(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(market.DefaultTimezone)
	if err != nil {
		t.Fatalf("LoadLocation() error = %v", err)
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func newHarness(t *testing.T, clock *utilstest.FakeClock, fetcher sources.Fetcher, store storage.Store) *harness {
	t.Helper()
	calendar, err := market.NewCalendar(market.Config{})
	if err != nil {
		t.Fatalf("NewCalendar() error = %v", err)
	}
	if store == nil {
		store = memory.New(storage.Config{})
	}

	notifier := &fakeNotifier{}
	tickers := []string{"AAPL", "MSFT", "GOOG"}

	checker := health.NewChecker(fetcher, store, notifier, health.Config{Tickers: tickers, BatchSize: 2, Clock: clock})
	pipeline := NewPipeline(fetcher, store, notifier, PipelineConfig{})
	scheduler := NewScheduler(SchedulerConfig{
		Tickers:    tickers,
		BatchSize:  2,
		BatchPause: 500 * time.Millisecond,
		Calendar:   calendar,
		Pipeline:   pipeline,
		Checker:    checker,
		Store:      store,
		Notifier:   notifier,
		Clock:      clock,
	})

	h := &harness{scheduler: scheduler, store: store, notifier: notifier, clock: clock}
	if f, ok := fetcher.(*fakeFetcher); ok {
		h.fetcher = f
	}
	return h
}

func newsAt(id, ticker string, at time.Time) types.NewsItem {
	return types.NewsItem{ID: id, Ticker: ticker, Datetime: float64(at.Unix()), Headline: "Headline " + id, Source: "Reuters"}
}

func TestCycleProcessesBatchesAndSleepsToTarget(t *testing.T) {
	now := eastern(t, 2024, time.March, 12, 11, 7)
	fetcher := &fakeFetcher{items: map[string][]types.NewsItem{
		"AAPL": {newsAt("A1", "AAPL", now.Add(-time.Minute))},
		"GOOG": {newsAt("G1", "GOOG", now.Add(-time.Minute))},
	}}
	h := newHarness(t, utilstest.NewFakeClock(now), fetcher, nil)

	wait := h.scheduler.step(context.Background())

	if fetcher.batches != 2 {
		t.Errorf("batches = %d, want 2", fetcher.batches)
	}
	if got := len(h.notifier.Sent()); got != 2 {
		t.Errorf("sent %d notifications, want 2", got)
	}
	if wait != DefaultOpenCycle-500*time.Millisecond {
		t.Errorf("wait = %v, want cycle target minus elapsed pause", wait)
	}
}

func TestNextWait(t *testing.T) {
	h := newHarness(t, utilstest.NewFakeClock(eastern(t, 2024, time.March, 12, 11, 7)), &fakeFetcher{}, nil)

	start := h.clock.Now()
	h.clock.Set(start.Add(8 * time.Second))
	if got := h.scheduler.nextWait(start, true); got != DefaultOpenFloor {
		t.Errorf("open wait = %v, want floor %v", got, DefaultOpenFloor)
	}

	closedStart := eastern(t, 2024, time.March, 12, 20, 7)
	h.clock.Set(closedStart.Add(time.Minute))
	if got := h.scheduler.nextWait(closedStart, false); got != 7*time.Minute {
		t.Errorf("closed wait = %v, want 7m to the quarter hour", got)
	}

	closedStart = eastern(t, 2024, time.March, 12, 20, 0)
	h.clock.Set(closedStart.Add(30 * time.Second))
	h.scheduler.closedCycle = time.Minute
	if got := h.scheduler.nextWait(closedStart, false); got != 30*time.Second {
		t.Errorf("closed wait = %v, want 30s", got)
	}
}

func TestHealthCheckRunsOncePerTriggerMinute(t *testing.T) {
	now := eastern(t, 2024, time.March, 12, 11, 30)
	fetcher := &fakeFetcher{items: map[string][]types.NewsItem{"AAPL": {newsAt("A1", "AAPL", now.Add(-time.Minute))}}}
	h := newHarness(t, utilstest.NewFakeClock(now), fetcher, nil)
	ctx := context.Background()

	h.scheduler.step(ctx)
	h.clock.Set(now.Add(10 * time.Second))
	h.scheduler.step(ctx)

	if got := len(h.notifier.Pinned()); got != 1 {
		t.Errorf("pinned edits = %d, want 1", got)
	}
	if !h.scheduler.State().LastHealthCheckTime.Equal(now) {
		t.Errorf("LastHealthCheckTime = %v", h.scheduler.State().LastHealthCheckTime)
	}

	h.clock.Set(now.Add(30 * time.Minute))
	h.scheduler.step(ctx)
	if got := len(h.notifier.Pinned()); got != 2 {
		t.Errorf("pinned edits = %d, want 2 after next trigger", got)
	}
}

func TestDailyResetOncePerDay(t *testing.T) {
	now := eastern(t, 2024, time.March, 12, 16, 5)
	h := newHarness(t, utilstest.NewFakeClock(now), &fakeFetcher{}, nil)
	ctx := context.Background()
	item := newsAt("A1", "AAPL", now)

	if err := h.store.Persist(ctx, &item); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	h.scheduler.step(ctx)

	if exists, _ := h.store.Exists(ctx, &item); exists {
		t.Error("daily reset should have cleared the store")
	}
	if got := h.scheduler.State().LastDailyClearDate; got != "2024-03-12" {
		t.Errorf("LastDailyClearDate = %q", got)
	}

	if err := h.store.Persist(ctx, &item); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	h.clock.Set(now.Add(2 * time.Hour))
	h.scheduler.step(ctx)

	if exists, _ := h.store.Exists(ctx, &item); !exists {
		t.Error("daily reset fired twice on the same date")
	}
}

func TestWeeklyReset(t *testing.T) {
	now := eastern(t, 2024, time.March, 15, 18, 0)
	h := newHarness(t, utilstest.NewFakeClock(now), &fakeFetcher{}, nil)
	ctx := context.Background()
	h.scheduler.state.LastDailyClearDate = "2024-03-15"
	item := newsAt("A1", "AAPL", now)

	if err := h.store.Persist(ctx, &item); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	h.scheduler.step(ctx)

	if exists, _ := h.store.Exists(ctx, &item); exists {
		t.Error("weekly reset should have cleared the store")
	}
	if len(h.store.Index()) != 0 {
		t.Errorf("index = %v, want empty", h.store.Index())
	}
}

func TestCycleFailureIsRecoveredWithCooldown(t *testing.T) {
	now := eastern(t, 2024, time.March, 12, 11, 7)
	fetcher := &fakeFetcher{panics: true}
	h := newHarness(t, utilstest.NewFakeClock(now), fetcher, nil)

	wait := h.scheduler.step(context.Background())

	if wait != DefaultCooldown {
		t.Errorf("wait = %v, want cooldown %v", wait, DefaultCooldown)
	}
	sent := h.notifier.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "CRITICAL") || !strings.Contains(sent[0], "feed exploded") {
		t.Errorf("sent = %v", sent)
	}
}

func TestFailedHealthCheckAlertsAndCoolsDown(t *testing.T) {
	now := eastern(t, 2024, time.March, 12, 20, 0)
	fetcher := &fakeFetcher{items: map[string][]types.NewsItem{"AAPL": {newsAt("A1", "AAPL", now)}}}
	h := newHarness(t, utilstest.NewFakeClock(now), fetcher, nil)
	h.scheduler.state.LastDailyClearDate = "2024-03-12"
	h.scheduler.pipeline = NewPipeline(&fakeFetcher{}, h.store, h.notifier, PipelineConfig{})

	h.scheduler.step(context.Background())

	var cooled bool
	for _, d := range h.clock.Sleeps() {
		if d == DefaultCooldown {
			cooled = true
		}
	}
	if !cooled {
		t.Errorf("sleeps = %v, want a %v cooldown", h.clock.Sleeps(), DefaultCooldown)
	}
	sent := h.notifier.Sent()
	if len(sent) == 0 || !strings.Contains(sent[len(sent)-1], "Failed") {
		t.Errorf("sent = %v", sent)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness(t, utilstest.NewFakeClock(eastern(t, 2024, time.March, 12, 11, 7)), &fakeFetcher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.scheduler.Start(ctx); !IsCancelled(err) {
		t.Errorf("Start() error = %v, want cancellation", err)
	}
	if h.scheduler.IsRunning() {
		t.Error("scheduler still marked running")
	}
}

func TestEndToEndFeedToNotification(t *testing.T) {
	now := eastern(t, 2024, time.March, 12, 11, 7)
	body := fmt.Sprintf(`[{"id":"A1","datetime":%d,"headline":"Apple beats","summary":"","url":"https://example.com/a1","source":"Reuters"}]`, now.Add(-time.Minute).Unix())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "AAPL" {
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	clock := utilstest.NewFakeClock(now)
	fetcher := sources.NewFinnhubSource(sources.FinnhubConfig{BaseURL: server.URL, Token: "t", Clock: clock, HTTPClient: server.Client()})
	store, err := storage.NewFileStore(storage.Config{Path: filepath.Join(t.TempDir(), "news_data")})
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	h := newHarness(t, clock, fetcher, store)
	ctx := context.Background()

	if err := h.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if got := len(h.notifier.Sent()); got != 1 {
		t.Fatalf("first cycle sent %d notifications, want 1", got)
	}

	clock.Set(now.Add(15 * time.Second))
	if err := h.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if got := len(h.notifier.Sent()); got != 1 {
		t.Errorf("second cycle sent %d new notifications, want 0", got-1)
	}

	result, ok := h.scheduler.CheckOnce(ctx)
	if !ok || result.Percentage.StringFixed(2) != "100.00" || result.Total != 1 {
		t.Errorf("CheckOnce() = %+v, %v", result, ok)
	}
}
