package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"newswatch/internal/identity"
	"newswatch/internal/market"
	"newswatch/internal/storage"
	"newswatch/internal/utils"
)

type Config struct {
	Bot      BotConfig      `toml:"bot"`
	Feed     FeedConfig     `toml:"feed"`
	Storage  StorageConfig  `toml:"storage"`
	Notifier NotifierConfig `toml:"notifier"`
	Schedule ScheduleConfig `toml:"schedule"`
	Logging  LoggingConfig  `toml:"logging"`
}

type BotConfig struct {
	Name      string   `toml:"name"`
	Tickers   []string `toml:"tickers"`
	BatchSize int      `toml:"batch_size"`
	Identity  string   `toml:"identity"`
}

type FeedConfig struct {
	BaseURL           string   `toml:"base_url"`
	Token             string   `toml:"token"`
	Timeout           string   `toml:"timeout"`
	RetryDelays       []string `toml:"retry_delays"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Concurrency       int      `toml:"concurrency"`
	RequestPause      string   `toml:"request_pause"`
}

type StorageConfig struct {
	Type        string `toml:"type"`
	Path        string `toml:"path"`
	IndexPath   string `toml:"index_path"`
	Partition   string `toml:"partition"`
	AtomicIndex *bool  `toml:"atomic_index"`
	RedisAddr   string `toml:"redis_addr"`
	RedisPrefix string `toml:"redis_prefix"`
}

type NotifierConfig struct {
	WebhookURL      string `toml:"webhook_url"`
	Username        string `toml:"username"`
	APIBase         string `toml:"api_base"`
	BotToken        string `toml:"bot_token"`
	ChannelID       string `toml:"channel_id"`
	PinnedMessageID string `toml:"pinned_message_id"`
	MaxAttempts     int    `toml:"max_attempts"`
	Timeout         string `toml:"timeout"`
}

type ScheduleConfig struct {
	Timezone        string `toml:"timezone"`
	DisplayTimezone string `toml:"display_timezone"`
	MarketOpen      string `toml:"market_open"`
	MarketClose     string `toml:"market_close"`
	OpenCycle       string `toml:"open_cycle"`
	ClosedCycle     string `toml:"closed_cycle"`
	OpenFloor       string `toml:"open_floor"`
	BatchPause      string `toml:"batch_pause"`
	Cooldown        string `toml:"cooldown"`
	HealthBatchSize int    `toml:"health_batch_size"`
	HealthPause     string `toml:"health_pause"`
}

type LoggingConfig struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Stdout     *bool  `toml:"stdout"`
}

// Overrides carries secrets supplied outside the config file. Empty fields
// leave the file's value in place.
type Overrides struct {
	FeedToken  string
	WebhookURL string
	BotToken   string
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Apply(o Overrides) {
	if o.FeedToken != "" {
		c.Feed.Token = o.FeedToken
	}
	if o.WebhookURL != "" {
		c.Notifier.WebhookURL = o.WebhookURL
	}
	if o.BotToken != "" {
		c.Notifier.BotToken = o.BotToken
	}
}

func validateConfig(config *Config) error {
	if config.Bot.Name == "" {
		config.Bot.Name = "newswatch"
	}

	config.Bot.Tickers = normalizeTickers(config.Bot.Tickers)
	if len(config.Bot.Tickers) == 0 {
		return fmt.Errorf("at least one ticker must be configured")
	}

	if config.Bot.BatchSize <= 0 {
		config.Bot.BatchSize = 10
	}

	if config.Bot.Identity == "" {
		config.Bot.Identity = identity.ModeProvider
	}
	if _, err := identity.New(config.Bot.Identity); err != nil {
		return err
	}

	setDefault(&config.Feed.Timeout, "10s")
	setDefault(&config.Feed.RequestPause, "200ms")
	if len(config.Feed.RetryDelays) == 0 {
		config.Feed.RetryDelays = []string{"1s", "2s", "4s"}
	}
	if config.Feed.RequestsPerMinute == 0 {
		config.Feed.RequestsPerMinute = 60
	}
	if config.Feed.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if config.Feed.Concurrency <= 0 {
		config.Feed.Concurrency = 1
	}

	setDefault(&config.Storage.Type, storage.TypeFilesystem)
	setDefault(&config.Storage.Path, "news_data")
	setDefault(&config.Storage.Partition, string(storage.PartitionDateTicker))
	switch storage.Partition(config.Storage.Partition) {
	case storage.PartitionDateTicker, storage.PartitionTickerDate:
	default:
		return fmt.Errorf("unsupported partition: %s", config.Storage.Partition)
	}
	if config.Storage.AtomicIndex == nil {
		atomic := true
		config.Storage.AtomicIndex = &atomic
	}

	setDefault(&config.Notifier.Timeout, "15s")
	if config.Notifier.MaxAttempts <= 0 {
		config.Notifier.MaxAttempts = 3
	}

	setDefault(&config.Schedule.Timezone, market.DefaultTimezone)
	setDefault(&config.Schedule.DisplayTimezone, "Asia/Hong_Kong")
	setDefault(&config.Schedule.MarketOpen, market.DefaultOpen)
	setDefault(&config.Schedule.MarketClose, market.DefaultClose)
	setDefault(&config.Schedule.OpenCycle, "10s")
	setDefault(&config.Schedule.ClosedCycle, "10m")
	setDefault(&config.Schedule.OpenFloor, "6s")
	setDefault(&config.Schedule.BatchPause, "1s")
	setDefault(&config.Schedule.Cooldown, "60s")
	setDefault(&config.Schedule.HealthPause, "2s")
	if config.Schedule.HealthBatchSize <= 0 {
		config.Schedule.HealthBatchSize = config.Bot.BatchSize
	}
	if _, err := time.LoadLocation(config.Schedule.DisplayTimezone); err != nil {
		return fmt.Errorf("invalid display_timezone: %w", err)
	}
	if _, err := market.NewCalendar(config.Calendar()); err != nil {
		return err
	}

	setDefault(&config.Logging.Dir, "logs")
	setDefault(&config.Logging.Level, "info")
	if config.Logging.Stdout == nil {
		stdout := true
		config.Logging.Stdout = &stdout
	}

	durations := map[string]string{
		"feed.timeout":          config.Feed.Timeout,
		"feed.request_pause":    config.Feed.RequestPause,
		"notifier.timeout":      config.Notifier.Timeout,
		"schedule.open_cycle":   config.Schedule.OpenCycle,
		"schedule.closed_cycle": config.Schedule.ClosedCycle,
		"schedule.open_floor":   config.Schedule.OpenFloor,
		"schedule.batch_pause":  config.Schedule.BatchPause,
		"schedule.cooldown":     config.Schedule.Cooldown,
		"schedule.health_pause": config.Schedule.HealthPause,
	}
	for i, d := range config.Feed.RetryDelays {
		durations[fmt.Sprintf("feed.retry_delays[%d]", i)] = d
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	return nil
}

func (c *Config) Calendar() market.Config {
	return market.Config{
		Timezone: c.Schedule.Timezone,
		Open:     c.Schedule.MarketOpen,
		Close:    c.Schedule.MarketClose,
	}
}

func (c *Config) RetryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.Feed.RetryDelays))
	for _, d := range c.Feed.RetryDelays {
		delays = append(delays, Duration(d))
	}
	return delays
}

// Duration parses a value already checked by validateConfig.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

func normalizeTickers(tickers []string) []string {
	upper := make([]string, len(tickers))
	for i, t := range tickers {
		upper[i] = strings.ToUpper(strings.TrimSpace(t))
	}

	seen := make(map[string]bool, len(upper))
	return utils.FilterArray(upper, func(t string) bool {
		if t == "" || seen[t] {
			return false
		}
		seen[t] = true
		return true
	})
}
