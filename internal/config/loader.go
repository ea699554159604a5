package config

import (
	"context"
	"fmt"
	"time"

	"newswatch/internal/components"
	"newswatch/internal/core"
	"newswatch/internal/health"
	"newswatch/internal/logging"
	"newswatch/internal/market"
	"newswatch/internal/platforms"
	"newswatch/internal/sources"
	"newswatch/internal/storage"
	"newswatch/internal/utils"
)

type Loader struct {
	config       *Config
	loggers      *logging.Loggers
	clock        utils.Clock
	registry     *components.Registry
	storageComp  *components.StorageComponent
	platformComp *components.PlatformComponent
	sourceComp   *components.SourceComponent
}

func NewLoader(cfg *Config, loggers *logging.Loggers) *Loader {
	if loggers == nil {
		loggers = logging.Discard()
	}
	return &Loader{
		config:   cfg,
		loggers:  loggers,
		clock:    utils.SystemClock{},
		registry: components.NewRegistry(loggers.App),
	}
}

// WithClock replaces the wall clock for every component the loader builds.
func (l *Loader) WithClock(clock utils.Clock) *Loader {
	l.clock = clock
	return l
}

func (l *Loader) Initialize(ctx context.Context) (*core.Scheduler, error) {
	if err := l.initializeComponents(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	calendar, err := market.NewCalendar(l.config.Calendar())
	if err != nil {
		return nil, err
	}
	display, err := time.LoadLocation(l.config.Schedule.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load display timezone: %w", err)
	}

	store := l.storageComp.Store()
	notifier := l.platformComp.Discord()
	fetcher := l.sourceComp.Source()
	schedule := l.config.Schedule

	checker := health.NewChecker(fetcher, store, notifier, health.Config{
		Tickers:         l.config.Bot.Tickers,
		BatchSize:       schedule.HealthBatchSize,
		BatchPause:      Duration(schedule.HealthPause),
		DisplayLocation: display,
		Clock:           l.clock,
		Logger:          l.loggers.App,
		HealthLog:       l.loggers.Health,
	})

	pipeline := core.NewPipeline(fetcher, store, notifier, core.PipelineConfig{
		DisplayLocation: display,
		Logger:          l.loggers.App,
	})

	scheduler := core.NewScheduler(core.SchedulerConfig{
		Name:        l.config.Bot.Name,
		Tickers:     l.config.Bot.Tickers,
		BatchSize:   l.config.Bot.BatchSize,
		BatchPause:  Duration(schedule.BatchPause),
		OpenCycle:   Duration(schedule.OpenCycle),
		ClosedCycle: Duration(schedule.ClosedCycle),
		OpenFloor:   Duration(schedule.OpenFloor),
		Cooldown:    Duration(schedule.Cooldown),
		Calendar:    calendar,
		Pipeline:    pipeline,
		Checker:     checker,
		Store:       store,
		Notifier:    notifier,
		Clock:       l.clock,
		Logger:      l.loggers.App,
	})

	return scheduler, nil
}

func (l *Loader) initializeComponents(ctx context.Context) error {
	l.loggers.App.Info("Initializing components")

	l.storageComp = components.NewStorageComponent(l.storageConfig())
	l.platformComp = components.NewPlatformComponent(l.platformConfig())
	l.sourceComp = components.NewSourceComponent(l.sourceConfig(), l.config.Bot.Identity)

	for _, comp := range []components.IComponent{l.storageComp, l.platformComp, l.sourceComp} {
		if err := l.registry.Register(comp); err != nil {
			return err
		}
	}

	if err := l.registry.InitializeAll(ctx); err != nil {
		return err
	}

	l.loggers.App.Info("All components initialized")
	return nil
}

func (l *Loader) storageConfig() storage.Config {
	s := l.config.Storage
	return storage.Config{
		Type:        s.Type,
		Path:        s.Path,
		IndexPath:   s.IndexPath,
		Partition:   storage.Partition(s.Partition),
		AtomicIndex: *s.AtomicIndex,
		RedisAddr:   s.RedisAddr,
		RedisPrefix: s.RedisPrefix,
		Logger:      l.loggers.App,
	}
}

func (l *Loader) platformConfig() platforms.DiscordConfig {
	n := l.config.Notifier
	return platforms.DiscordConfig{
		WebhookURL:      n.WebhookURL,
		Username:        n.Username,
		APIBase:         n.APIBase,
		BotToken:        n.BotToken,
		ChannelID:       n.ChannelID,
		PinnedMessageID: n.PinnedMessageID,
		MaxAttempts:     n.MaxAttempts,
		Timeout:         Duration(n.Timeout),
		Clock:           l.clock,
		Logger:          l.loggers.App,
		Audit:           l.loggers.Audit,
	}
}

func (l *Loader) sourceConfig() sources.FinnhubConfig {
	f := l.config.Feed
	return sources.FinnhubConfig{
		BaseURL:           f.BaseURL,
		Token:             f.Token,
		Timeout:           Duration(f.Timeout),
		RetryDelays:       l.config.RetryDelays(),
		RequestsPerMinute: f.RequestsPerMinute,
		Concurrency:       f.Concurrency,
		RequestPause:      Duration(f.RequestPause),
		Clock:             l.clock,
		Logger:            l.loggers.App,
	}
}

func (l *Loader) Shutdown(ctx context.Context) error {
	return l.registry.CloseAll(ctx)
}
