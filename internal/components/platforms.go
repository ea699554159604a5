package components

import (
	"context"
	"fmt"

	"newswatch/internal/platforms"
)

type PlatformComponent struct {
	config  platforms.DiscordConfig
	discord *platforms.DiscordPlatform
}

func NewPlatformComponent(cfg platforms.DiscordConfig) *PlatformComponent {
	return &PlatformComponent{
		config: cfg,
	}
}

func (c *PlatformComponent) Name() string {
	return PlatformComponentName
}

func (c *PlatformComponent) Dependencies() []string {
	return []string{}
}

func (c *PlatformComponent) Validate() error {
	if c.config.WebhookURL == "" {
		return fmt.Errorf("platform: webhook_url is required")
	}
	return nil
}

func (c *PlatformComponent) Initialize(ctx context.Context) error {
	discord := platforms.NewDiscordPlatform(c.config)
	if err := discord.Validate(); err != nil {
		return fmt.Errorf("discord platform validation failed: %w", err)
	}
	c.discord = discord
	return nil
}

func (c *PlatformComponent) Close(ctx context.Context) error {
	if c.discord != nil {
		return c.discord.Close(ctx)
	}
	return nil
}

func (c *PlatformComponent) Discord() *platforms.DiscordPlatform {
	return c.discord
}
