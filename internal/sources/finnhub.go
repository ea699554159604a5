package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"newswatch/internal/identity"
	"newswatch/internal/types"
	"newswatch/internal/utils"
)

const DefaultFinnhubURL = "https://finnhub.io/api/v1"

// Fetcher acquires news for ticker symbols. Failures are absorbed: a symbol
// that cannot be fetched contributes no items.
type Fetcher interface {
	FetchOne(ctx context.Context, symbol string) []types.NewsItem
	FetchBatch(ctx context.Context, symbols []string) []types.NewsItem
}

type FinnhubConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	MaxAttempts       int
	RetryDelays       []time.Duration
	RequestsPerMinute int
	Concurrency       int
	RequestPause      time.Duration
	Identity          identity.Strategy
	Clock             utils.Clock
	Logger            *slog.Logger
	HTTPClient        *http.Client
}

type FinnhubSource struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxAttempts  int
	retryDelays  []time.Duration
	limiter      *rate.Limiter
	concurrency  int
	requestPause time.Duration
	identity     identity.Strategy
	clock        utils.Clock
	logger       *slog.Logger
}

type finnhubItem struct {
	ID       json.RawMessage `json:"id"`
	Datetime json.RawMessage `json:"datetime"`
	Headline string          `json:"headline"`
	Summary  string          `json:"summary"`
	URL      string          `json:"url"`
	Source   string          `json:"source"`
}

func NewFinnhubSource(cfg FinnhubConfig) *FinnhubSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFinnhubURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.ProviderStrategy{}
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &FinnhubSource{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		httpClient:   cfg.HTTPClient,
		maxAttempts:  cfg.MaxAttempts,
		retryDelays:  cfg.RetryDelays,
		limiter:      rate.NewLimiter(limit, 1),
		concurrency:  cfg.Concurrency,
		requestPause: cfg.RequestPause,
		identity:     cfg.Identity,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
}

func (f *FinnhubSource) Name() string {
	return "finnhub"
}

func (f *FinnhubSource) FetchOne(ctx context.Context, symbol string) []types.NewsItem {
	items, err := f.fetchSymbol(ctx, symbol)
	if err != nil {
		f.logger.Error("Fetch failed, no data this cycle", "symbol", symbol, "error", err)
		return nil
	}
	return items
}

func (f *FinnhubSource) FetchBatch(ctx context.Context, symbols []string) []types.NewsItem {
	if f.concurrency <= 1 {
		return f.fetchSequential(ctx, symbols)
	}
	return f.fetchConcurrent(ctx, symbols)
}

func (f *FinnhubSource) fetchSequential(ctx context.Context, symbols []string) []types.NewsItem {
	var items []types.NewsItem
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}

		items = append(items, f.FetchOne(ctx, symbol)...)

		if i < len(symbols)-1 && f.requestPause > 0 {
			if err := f.clock.Sleep(ctx, f.requestPause); err != nil {
				break
			}
		}
	}
	return items
}

// fetchConcurrent keeps at most f.concurrency requests in flight. Symbols that
// failed with a retryable error get one sequential follow-up pass; the result
// keeps symbol order.
func (f *FinnhubSource) fetchConcurrent(ctx context.Context, symbols []string) []types.NewsItem {
	results := make([][]types.NewsItem, len(symbols))
	sem := semaphore.NewWeighted(int64(f.concurrency))

	var mu sync.Mutex
	var failed []int

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i, symbol := i, symbol
		g.Go(func() error {
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("Panic while fetching symbol, no data this cycle", "symbol", symbol, "panic", r)
				}
			}()

			items, err := f.fetchSymbol(gctx, symbol)
			switch {
			case errors.Is(err, types.ErrNonRetryable):
				f.logger.Error("Fetch failed, no data this cycle", "symbol", symbol, "error", err)
			case err != nil:
				f.logger.Warn("Fetch failed, queued for follow-up", "symbol", symbol, "error", err)
				mu.Lock()
				failed = append(failed, i)
				mu.Unlock()
			default:
				results[i] = items
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 && ctx.Err() == nil {
		slices.Sort(failed)
		f.logger.Info("Retrying failed symbols", "count", len(failed))
		for _, i := range failed {
			results[i] = f.FetchOne(ctx, symbols[i])
		}
	}

	var items []types.NewsItem
	for _, r := range results {
		items = append(items, r...)
	}
	return items
}

func (f *FinnhubSource) fetchSymbol(ctx context.Context, symbol string) ([]types.NewsItem, error) {
	day := f.clock.Now().UTC().Format(time.DateOnly)
	var lastErr error

	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		raw, err := f.request(ctx, symbol, day)
		if err == nil {
			if attempt > 0 {
				f.logger.Info("Fetch succeeded on retry", "symbol", symbol, "attempt", attempt+1)
			}
			return f.parseItems(symbol, raw), nil
		}

		lastErr = err
		if errors.Is(err, types.ErrNonRetryable) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < f.maxAttempts-1 {
			wait := f.retryDelays[min(attempt, len(f.retryDelays)-1)]
			f.logger.Warn("Fetch attempt failed, retrying", "symbol", symbol, "attempt", attempt+1, "max_attempts", f.maxAttempts, "wait_duration", wait, "error", err)
			if err := f.clock.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("max attempts (%d) exceeded for %s: %w", f.maxAttempts, symbol, lastErr)
}

func (f *FinnhubSource) request(ctx context.Context, symbol, day string) ([]finnhubItem, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("from", day)
	query.Set("to", day)
	query.Set("token", f.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/company-news?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w: %w", types.ErrNonRetryable, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("feed returned %d: %w", resp.StatusCode, types.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status code %d, body: %s: %w", resp.StatusCode, string(body), types.ErrNonRetryable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var items []finnhubItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal news: %w", err)
	}

	return items, nil
}

func (f *FinnhubSource) parseItems(symbol string, raw []finnhubItem) []types.NewsItem {
	if len(raw) == 0 {
		f.logger.Info("Feed returned no news", "symbol", symbol)
		return nil
	}

	items := make([]types.NewsItem, 0, len(raw))
	for _, r := range raw {
		item, err := f.convert(symbol, r)
		if err != nil {
			f.logger.Warn("Dropping invalid item", "symbol", symbol, "error", err)
			continue
		}
		items = append(items, item)
	}

	f.logger.Debug("Fetched news", "symbol", symbol, "received", len(raw), "accepted", len(items))
	return items
}

func (f *FinnhubSource) convert(symbol string, r finnhubItem) (types.NewsItem, error) {
	ts, err := parseDatetime(r.Datetime)
	if err != nil {
		return types.NewsItem{}, types.NewInvalidItemError(symbol, err.Error()).WithDetail("headline", r.Headline)
	}

	id, err := f.identity.Identify(identity.Raw{
		Ticker:     symbol,
		Datetime:   ts,
		Headline:   r.Headline,
		ProviderID: rawString(r.ID),
	})
	if err != nil {
		return types.NewsItem{}, types.NewInvalidItemError(symbol, err.Error()).WithDetail("headline", r.Headline)
	}

	source := strings.TrimSpace(r.Source)
	if source == "" {
		source = types.DefaultSource
	}

	return types.NewsItem{
		ID:       id,
		Ticker:   symbol,
		Datetime: ts,
		Headline: strings.TrimSpace(r.Headline),
		Summary:  strings.TrimSpace(r.Summary),
		URL:      strings.TrimSpace(r.URL),
		Source:   source,
	}, nil
}

// parseDatetime accepts JSON numbers only; strings, booleans and null are
// rejected even when they look numeric.
func parseDatetime(raw json.RawMessage) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, fmt.Errorf("missing datetime")
	}

	var ts float64
	if err := json.Unmarshal([]byte(trimmed), &ts); err != nil {
		return 0, fmt.Errorf("non-numeric datetime %s", trimmed)
	}
	if ts <= 0 {
		return 0, fmt.Errorf("non-positive datetime %s", trimmed)
	}
	return ts, nil
}

func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func (f *FinnhubSource) Close() {
	f.httpClient.CloseIdleConnections()
}
