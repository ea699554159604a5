package platforms

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"newswatch/internal/types"
)

var htmlStripper = bluemonday.StrictPolicy()

func stripHTML(s string, limit int) string {
	s = htmlStripper.Sanitize(s)
	s = html.UnescapeString(s)
	s = strings.TrimSpace(s)
	return truncate(s, limit)
}

func truncate(s string, limit int) string {
	if limit <= 3 || len([]rune(s)) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}

// FormatNews renders one item as a channel message. loc only affects the
// displayed timestamp.
func FormatNews(item *types.NewsItem, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📰 **%s** | %s\n", item.Ticker, stripHTML(item.Source, 100))
	fmt.Fprintf(&b, "**%s**\n", stripHTML(item.Headline, 256))
	if summary := stripHTML(item.Summary, 500); summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "<%s>\n", item.URL)
	}
	fmt.Fprintf(&b, "🕒 %s", item.Time().In(loc).Format("2006-01-02 15:04 MST"))
	return b.String()
}

// SplitMessage breaks message into parts of at most limit runes, preferring
// line boundaries. A single overlong line is hard-wrapped.
func SplitMessage(message string, limit int) []string {
	if len([]rune(message)) <= limit {
		return []string{message}
	}

	var parts []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, strings.TrimRight(string(current), "\n"))
			current = current[:0]
		}
	}

	for _, line := range strings.SplitAfter(message, "\n") {
		r := []rune(line)
		for len(r) > limit {
			flush()
			parts = append(parts, string(r[:limit]))
			r = r[limit:]
		}
		if len(current)+len(r) > limit {
			flush()
		}
		current = append(current, r...)
	}
	flush()

	return parts
}
