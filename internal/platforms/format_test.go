package platforms

import (
	"strings"
	"testing"
	"time"

	"newswatch/internal/types"
)

func TestFormatNews(t *testing.T) {
	item := &types.NewsItem{
		ID:       "A1",
		Ticker:   "AAPL",
		Datetime: 1700000000,
		Headline: "Apple <b>beats</b> estimates",
		Summary:  "Revenue &amp; margins <i>up</i>",
		URL:      "https://example.com/a1",
		Source:   "Reuters",
	}

	msg := FormatNews(item, time.UTC)

	for _, want := range []string{
		"**AAPL**",
		"Reuters",
		"**Apple beats estimates**",
		"Revenue & margins up",
		"<https://example.com/a1>",
		"2023-11-14 22:13 UTC",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("FormatNews() missing %q in:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "<b>") {
		t.Errorf("FormatNews() kept HTML: %s", msg)
	}
}

func TestFormatNewsTruncatesSummary(t *testing.T) {
	item := &types.NewsItem{Ticker: "MSFT", Datetime: 1700000000, Headline: "h", Summary: strings.Repeat("s", 800), Source: "x"}
	msg := FormatNews(item, nil)
	if strings.Contains(msg, strings.Repeat("s", 501)) {
		t.Error("summary was not truncated")
	}
	if !strings.Contains(msg, "...") {
		t.Error("truncated summary should end with ellipsis")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		limit   int
		want    int
	}{
		{"short", "hello", 10, 1},
		{"line boundary", "aaaa\nbbbb\ncccc", 10, 2},
		{"hard wrap", strings.Repeat("z", 25), 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := SplitMessage(tt.message, tt.limit)
			if len(parts) != tt.want {
				t.Fatalf("SplitMessage() = %d parts %q, want %d", len(parts), parts, tt.want)
			}
			for _, p := range parts {
				if len([]rune(p)) > tt.limit {
					t.Errorf("part %q exceeds limit %d", p, tt.limit)
				}
			}
		})
	}
}
