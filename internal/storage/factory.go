package storage

import (
	"context"
	"fmt"
)

const TypeFilesystem = "filesystem"

type FactoryFunc func(ctx context.Context, cfg Config) (Store, error)

var factoryFuncs = map[string]FactoryFunc{
	TypeFilesystem: func(_ context.Context, cfg Config) (Store, error) {
		return NewFileStore(cfg)
	},
}

// RegisterFactory is called from the init of each backend package.
func RegisterFactory(storageType string, fn FactoryFunc) {
	factoryFuncs[storageType] = fn
}

func New(ctx context.Context, cfg Config) (Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = TypeFilesystem
	}

	fn, exists := factoryFuncs[storageType]
	if !exists {
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	return fn(ctx, cfg)
}
