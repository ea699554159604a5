package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jessevdk/go-flags"

	"newswatch/internal/config"
	"newswatch/internal/core"
	"newswatch/internal/logging"
	_ "newswatch/internal/storage/memory"
	_ "newswatch/internal/storage/redisstore"
	_ "newswatch/internal/storage/sqlite"
)

type options struct {
	Config     string `short:"c" long:"config" env:"NEWSWATCH_CONFIG" default:"config.toml" description:"Path to configuration file"`
	Once       bool   `long:"once" description:"Run a single cycle and exit"`
	Check      bool   `long:"check" description:"Run one health check and exit"`
	FeedToken  string `long:"feed-token" env:"FINNHUB_TOKEN" description:"News feed API token"`
	WebhookURL string `long:"webhook-url" env:"DISCORD_WEBHOOK_URL" description:"Notification webhook URL"`
	BotToken   string `long:"bot-token" env:"DISCORD_BOT_TOKEN" description:"Bot token for the pinned summary"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal: %v\n", sig)
		fmt.Println("Shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Apply(config.Overrides{
		FeedToken:  opts.FeedToken,
		WebhookURL: opts.WebhookURL,
		BotToken:   opts.BotToken,
	})

	loggers, err := logging.New(logging.Config{
		Dir:        cfg.Logging.Dir,
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Stdout:     *cfg.Logging.Stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer loggers.Close()

	logger := loggers.App
	logger.Info("Loaded configuration", "path", opts.Config, "tickers", len(cfg.Bot.Tickers), "storage", cfg.Storage.Type)

	loader := config.NewLoader(cfg, loggers)
	scheduler, err := loader.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := loader.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	switch {
	case opts.Check:
		result, ok := scheduler.CheckOnce(ctx)
		if result == nil {
			return ctx.Err()
		}
		logger.Info("Health check finished", "status", result.Status, "match_percentage", result.Percentage.StringFixed(2))
		if !ok {
			return fmt.Errorf("health check reported %s", result.Status)
		}
		return nil

	case opts.Once:
		return scheduler.RunOnce(ctx)
	}

	logger.Info("Starting scheduler", "name", scheduler.Name())
	if err := scheduler.Start(ctx); err != nil && !core.IsCancelled(err) {
		return err
	}

	logger.Info("Scheduler stopped")
	return nil
}
