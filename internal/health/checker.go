// Package health cross-checks live feed data against the store and reports
// graduated alerts through the notifier.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"newswatch/internal/platforms"
	"newswatch/internal/sources"
	"newswatch/internal/storage"
	"newswatch/internal/types"
	"newswatch/internal/utils"
)

type Status string

const (
	StatusHealthy Status = "Healthy"
	StatusWarning Status = "Warning"
	StatusFailed  Status = "Failed"
)

const (
	DefaultGlobalStaleAfter = 24 * time.Hour
	DefaultTickerStaleAfter = 6 * time.Hour
)

var (
	hundred          = decimal.NewFromInt(100)
	healthyThreshold = decimal.NewFromInt(98)
	warningThreshold = decimal.NewFromInt(90)
)

// MatchPercentage is matched/total*100, or 100 when nothing was refetched.
func MatchPercentage(matched, total int) decimal.Decimal {
	if total == 0 {
		return hundred
	}
	return decimal.NewFromInt(int64(matched)).Mul(hundred).Div(decimal.NewFromInt(int64(total)))
}

func Classify(percentage decimal.Decimal) Status {
	switch {
	case percentage.GreaterThanOrEqual(healthyThreshold):
		return StatusHealthy
	case percentage.GreaterThanOrEqual(warningThreshold):
		return StatusWarning
	default:
		return StatusFailed
	}
}

type Result struct {
	Status     Status
	Percentage decimal.Decimal
	Matched    int
	Total      int
	Unmatched  []types.NewsItem
	Incidents  []string
	CheckedAt  time.Time
}

// MissingReport is the outcome of one missing-news check.
type MissingReport struct {
	Empty         bool
	GloballyStale bool
	Latest        time.Time
	Stale         []string
}

type Config struct {
	Tickers          []string
	BatchSize        int
	BatchPause       time.Duration
	GlobalStaleAfter time.Duration
	TickerStaleAfter time.Duration
	DisplayLocation  *time.Location
	Clock            utils.Clock
	Logger           *slog.Logger
	// HealthLog receives one durable entry per check outcome.
	HealthLog *slog.Logger
}

type Checker struct {
	fetcher  sources.Fetcher
	store    storage.Store
	notifier platforms.Notifier

	tickers          []string
	batchSize        int
	batchPause       time.Duration
	globalStaleAfter time.Duration
	tickerStaleAfter time.Duration
	display          *time.Location
	clock            utils.Clock
	logger           *slog.Logger
	healthLog        *slog.Logger

	mu        sync.Mutex
	incidents []string
}

func NewChecker(fetcher sources.Fetcher, store storage.Store, notifier platforms.Notifier, cfg Config) *Checker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.GlobalStaleAfter == 0 {
		cfg.GlobalStaleAfter = DefaultGlobalStaleAfter
	}
	if cfg.TickerStaleAfter == 0 {
		cfg.TickerStaleAfter = DefaultTickerStaleAfter
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HealthLog == nil {
		cfg.HealthLog = cfg.Logger
	}

	return &Checker{
		fetcher:          fetcher,
		store:            store,
		notifier:         notifier,
		tickers:          cfg.Tickers,
		batchSize:        cfg.BatchSize,
		batchPause:       cfg.BatchPause,
		globalStaleAfter: cfg.GlobalStaleAfter,
		tickerStaleAfter: cfg.TickerStaleAfter,
		display:          cfg.DisplayLocation,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		healthLog:        cfg.HealthLog,
	}
}

// RecordIncident appends to the current check's incident list.
func (c *Checker) RecordIncident(incident string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = append(c.incidents, fmt.Sprintf("[%s] %s", c.clock.Now().In(c.display).Format(time.TimeOnly), incident))
}

func (c *Checker) Incidents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.incidents)
}

func (c *Checker) resetIncidents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = nil
}

// CheckMissingNews inspects the store's ticker index for silence. All stale
// tickers share one alert.
func (c *Checker) CheckMissingNews(ctx context.Context) MissingReport {
	now := c.clock.Now()
	correlationID := fmt.Sprintf("missing-%d", now.Unix())
	index := c.store.Index()

	if len(index) == 0 {
		msg := "🚨 **CRITICAL**: news database is empty, no items have been stored"
		c.healthLog.Error("Missing news check: database empty")
		c.RecordIncident("database empty")
		c.notifier.Send(ctx, msg, correlationID)
		return MissingReport{Empty: true}
	}

	report := MissingReport{Latest: types.Unix(index.Max())}
	if age := now.Sub(report.Latest); age > c.globalStaleAfter {
		report.GloballyStale = true
		msg := fmt.Sprintf("🚨 **ALERT**: no news stored for any ticker in %s (latest %s)",
			age.Truncate(time.Minute), report.Latest.In(c.display).Format("2006-01-02 15:04 MST"))
		c.healthLog.Error("Missing news check: stale globally", "latest", report.Latest, "age", age)
		c.RecordIncident("stale globally")
		c.notifier.Send(ctx, msg, correlationID)
	}

	for ticker, ts := range index {
		if ts <= 0 {
			continue
		}
		if now.Sub(types.Unix(ts)) > c.tickerStaleAfter {
			report.Stale = append(report.Stale, ticker)
		}
	}
	slices.Sort(report.Stale)

	if len(report.Stale) == 0 {
		c.healthLog.Info("Missing news check: all tickers fresh", "tickers", len(index))
		return report
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ **Missing news**: %d ticker(s) silent for more than %s\n", len(report.Stale), c.tickerStaleAfter)
	for _, ticker := range report.Stale {
		fmt.Fprintf(&b, "- %s (last %s)\n", ticker, types.Unix(index[ticker]).In(c.display).Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("_May be expected on weekends or market holidays._")

	c.healthLog.Warn("Missing news check: stale tickers", "count", len(report.Stale), "tickers", report.Stale)
	c.RecordIncident(fmt.Sprintf("stale tickers: %s", strings.Join(report.Stale, ", ")))
	c.notifier.Send(ctx, b.String(), correlationID)
	return report
}

// Run refetches the whole universe and checks every item against the store.
// It reports true only for a healthy result.
func (c *Checker) Run(ctx context.Context) (*Result, bool) {
	c.resetIncidents()
	started := c.clock.Now()
	correlationID := fmt.Sprintf("health-%d", started.Unix())

	c.logger.Info("Starting health check", "tickers", len(c.tickers))

	var refetched []types.NewsItem
	for i, batch := range utils.Chunk(c.tickers, c.batchSize) {
		if i > 0 && c.batchPause > 0 {
			if err := c.clock.Sleep(ctx, c.batchPause); err != nil {
				return nil, false
			}
		}
		refetched = append(refetched, c.fetcher.FetchBatch(ctx, batch)...)
	}
	if ctx.Err() != nil {
		return nil, false
	}

	result := &Result{Total: len(refetched), CheckedAt: c.clock.Now()}
	for i := range refetched {
		item := &refetched[i]
		exists, err := c.store.Exists(ctx, item)
		if err != nil {
			c.logger.Error("Failed to check item during health check", "ticker", item.Ticker, "id", item.ID, "error", err)
			c.RecordIncident(fmt.Sprintf("exists check failed for %s/%s", item.Ticker, item.ID))
		}
		if exists {
			result.Matched++
		} else {
			result.Unmatched = append(result.Unmatched, *item)
		}
	}

	result.Percentage = MatchPercentage(result.Matched, result.Total)
	result.Status = Classify(result.Percentage)

	switch result.Status {
	case StatusWarning:
		for i := range result.Unmatched {
			item := &result.Unmatched[i]
			c.notifier.Send(ctx, "🔁 **Unmatched item**\n"+platforms.FormatNews(item, c.display), correlationID)
		}
		c.RecordIncident(fmt.Sprintf("match %s%%, %d unmatched", result.Percentage.StringFixed(2), len(result.Unmatched)))
		c.notifier.Send(ctx, fmt.Sprintf("⚠️ **Health check warning**: %s%% match (%d/%d), %d item(s) re-sent",
			result.Percentage.StringFixed(2), result.Matched, result.Total, len(result.Unmatched)), correlationID)
	case StatusFailed:
		c.RecordIncident(fmt.Sprintf("match %s%%, %d unmatched", result.Percentage.StringFixed(2), len(result.Unmatched)))
		c.notifier.Send(ctx, fmt.Sprintf("🚨 **CRITICAL: health check failed**: %s%% match (%d/%d)",
			result.Percentage.StringFixed(2), result.Matched, result.Total), correlationID)
	}

	if err := c.notifier.EditPinned(ctx, c.summary(result), correlationID); err != nil {
		c.logger.Warn("Failed to update pinned summary", "error", err)
		c.RecordIncident(fmt.Sprintf("pinned summary not updated: %v", err))
	}

	result.Incidents = c.Incidents()
	c.healthLog.Info("Health check completed",
		"status", result.Status,
		"match_percentage", result.Percentage.StringFixed(2),
		"matched", result.Matched,
		"total", result.Total,
		"incidents", result.Incidents,
		"duration", c.clock.Now().Sub(started),
	)

	return result, result.Status == StatusHealthy
}

func (c *Checker) summary(r *Result) string {
	icon := map[Status]string{StatusHealthy: "✅", StatusWarning: "⚠️", StatusFailed: "🚨"}[r.Status]

	var b strings.Builder
	fmt.Fprintf(&b, "%s **System status: %s**\n", icon, r.Status)
	fmt.Fprintf(&b, "Match: %s%% (%d/%d)\n", r.Percentage.StringFixed(2), r.Matched, r.Total)
	fmt.Fprintf(&b, "Last check: %s", r.CheckedAt.In(c.display).Format("2006-01-02 15:04 MST"))
	if incidents := c.Incidents(); len(incidents) > 0 {
		b.WriteString("\nIncidents:")
		for _, incident := range incidents {
			b.WriteString("\n- ")
			b.WriteString(incident)
		}
	}
	return b.String()
}
