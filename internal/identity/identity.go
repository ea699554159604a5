// Package identity decides which value identifies a feed entry for
// deduplication. The strategy is resolved once at startup.
package identity

import (
	"fmt"
	"strings"

	"newswatch/internal/utils/hash"
)

const (
	ModeProvider = "provider"
	ModeDerived  = "derived"
)

// Raw carries the fields of a feed entry an identity may be built from.
type Raw struct {
	Ticker     string
	Datetime   float64
	Headline   string
	ProviderID string
}

type Strategy interface {
	Name() string
	// Identify returns the item identity or an error when the entry cannot
	// be identified under this strategy.
	Identify(raw Raw) (string, error)
}

func New(mode string) (Strategy, error) {
	switch strings.ToLower(mode) {
	case "", ModeProvider:
		return ProviderStrategy{}, nil
	case ModeDerived:
		return DerivedStrategy{HashLength: 8}, nil
	default:
		return nil, fmt.Errorf("unsupported identity mode: %s", mode)
	}
}

// ProviderStrategy trusts the id issued by the feed.
type ProviderStrategy struct{}

func (ProviderStrategy) Name() string {
	return ModeProvider
}

func (ProviderStrategy) Identify(raw Raw) (string, error) {
	id := strings.TrimSpace(raw.ProviderID)
	if id == "" || id == "0" {
		return "", fmt.Errorf("missing provider id")
	}
	return sanitize(id), nil
}

// DerivedStrategy builds {ticker}_{unix seconds}_{short headline hash}, so the
// same headline published at the same second always maps to one record.
type DerivedStrategy struct {
	HashLength int
}

func (DerivedStrategy) Name() string {
	return ModeDerived
}

func (d DerivedStrategy) Identify(raw Raw) (string, error) {
	if raw.Ticker == "" {
		return "", fmt.Errorf("missing ticker")
	}
	digest := hash.NewHash([]byte(raw.Headline)).Short(d.HashLength)
	return sanitize(fmt.Sprintf("%s_%d_%s", raw.Ticker, int64(raw.Datetime), digest)), nil
}

// sanitize keeps ids usable as file names and cache keys.
func sanitize(id string) string {
	replacer := strings.NewReplacer("://", "_", "/", "_", "\\", "_", "?", "_", "&", "_", "=", "_", "#", "_", " ", "_", ":", "_")
	id = replacer.Replace(id)
	if len(id) > 200 {
		id = id[:200]
	}
	return id
}
