package storage

import (
	"strings"

	"newswatch/internal/types"
)

var segmentReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")

// SafeSegment makes a ticker or id usable as a single path segment or key part.
func SafeSegment(s string) string {
	return segmentReplacer.Replace(strings.TrimSpace(s))
}

// PartitionSegments returns the two partition levels for item under p,
// either (date, ticker) or (ticker, date).
func PartitionSegments(item *types.NewsItem, p Partition) (string, string) {
	date := item.Date()
	ticker := SafeSegment(item.Ticker)
	if p == PartitionTickerDate {
		return ticker, date
	}
	return date, ticker
}

// ItemKey joins the partition and the item id with sep.
func ItemKey(item *types.NewsItem, p Partition, sep string) string {
	first, second := PartitionSegments(item, p)
	return strings.Join([]string{first, second, SafeSegment(item.ID)}, sep)
}
