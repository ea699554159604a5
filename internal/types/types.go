package types

import (
	"maps"
	"math"
	"time"
)

const DefaultSource = "Unknown"

// NewsItem is one accepted feed entry. It is never mutated after the store
// has seen it.
type NewsItem struct {
	ID       string  `json:"id"`
	Ticker   string  `json:"ticker"`
	Datetime float64 `json:"datetime"`
	Headline string  `json:"headline"`
	Summary  string  `json:"summary"`
	URL      string  `json:"url,omitempty"`
	Source   string  `json:"source"`
}

// Time converts the fractional Unix timestamp to a UTC time.
func (n *NewsItem) Time() time.Time {
	sec, frac := math.Modf(n.Datetime)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Date is the UTC calendar date used to partition stored records.
func (n *NewsItem) Date() string {
	return n.Time().Format(time.DateOnly)
}

// TimestampIndex maps ticker to the latest datetime persisted for it.
type TimestampIndex map[string]float64

// Advance records ts for ticker unless a newer value is already present.
// It reports whether the index changed.
func (idx TimestampIndex) Advance(ticker string, ts float64) bool {
	if current, ok := idx[ticker]; ok && current >= ts {
		return false
	}
	idx[ticker] = ts
	return true
}

// Max returns the newest timestamp across all tickers.
func (idx TimestampIndex) Max() float64 {
	var latest float64
	for _, ts := range idx {
		if ts > latest {
			latest = ts
		}
	}
	return latest
}

func (idx TimestampIndex) Clone() TimestampIndex {
	out := make(TimestampIndex, len(idx))
	maps.Copy(out, idx)
	return out
}

// Unix converts an index value to a UTC time.
func Unix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
