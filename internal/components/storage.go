package components

import (
	"context"
	"fmt"

	"newswatch/internal/storage"
	"newswatch/internal/storage/memory"
	"newswatch/internal/storage/redisstore"
)

type StorageComponent struct {
	config storage.Config
	store  storage.Store
}

func NewStorageComponent(cfg storage.Config) *StorageComponent {
	return &StorageComponent{
		config: cfg,
	}
}

func (c *StorageComponent) Name() string {
	return StorageComponentName
}

func (c *StorageComponent) Dependencies() []string {
	return []string{}
}

func (c *StorageComponent) Validate() error {
	switch c.config.Type {
	case redisstore.TypeRedis:
		if c.config.RedisAddr == "" {
			return fmt.Errorf("storage: redis_addr is required")
		}
	case memory.TypeMemory:
	default:
		if c.config.Path == "" {
			return fmt.Errorf("storage: path is required")
		}
	}
	return nil
}

func (c *StorageComponent) Initialize(ctx context.Context) error {
	store, err := storage.New(ctx, c.config)
	if err != nil {
		return fmt.Errorf("storage: failed to initialize store: %w", err)
	}

	c.store = store
	return nil
}

func (c *StorageComponent) Close(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *StorageComponent) Store() storage.Store {
	return c.store
}
