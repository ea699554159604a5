package components

import (
	"context"
	"fmt"

	"newswatch/internal/identity"
	"newswatch/internal/sources"
)

type SourceComponent struct {
	config       sources.FinnhubConfig
	identityMode string
	source       *sources.FinnhubSource
}

func NewSourceComponent(cfg sources.FinnhubConfig, identityMode string) *SourceComponent {
	return &SourceComponent{
		config:       cfg,
		identityMode: identityMode,
	}
}

func (c *SourceComponent) Name() string {
	return SourceComponentName
}

func (c *SourceComponent) Dependencies() []string {
	return []string{}
}

func (c *SourceComponent) Validate() error {
	if c.config.Token == "" {
		return fmt.Errorf("source: feed token is required")
	}
	if _, err := identity.New(c.identityMode); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return nil
}

func (c *SourceComponent) Initialize(ctx context.Context) error {
	strategy, err := identity.New(c.identityMode)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	cfg := c.config
	cfg.Identity = strategy
	c.source = sources.NewFinnhubSource(cfg)
	return nil
}

func (c *SourceComponent) Close(ctx context.Context) error {
	if c.source != nil {
		c.source.Close()
	}
	return nil
}

func (c *SourceComponent) Source() *sources.FinnhubSource {
	return c.source
}
