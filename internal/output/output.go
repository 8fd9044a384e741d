package output

import (
	"fmt"
	"strings"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders command results.
type Formatter interface {
	FormatRateWindows(windows []core.RateWindow) (string, error)
	FormatPushReport(report *core.PushReport) (string, error)
	FormatSplitAdvice(advice compact.SplitAdvice, maxBytes int) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func windowBounds(w core.RateWindow) (oldest, newest string) {
	if len(w.Timestamps) == 0 {
		return "-", "-"
	}
	const layout = "2006-01-02T15:04:05.000Z07:00"
	return w.Timestamps[0].UTC().Format(layout), w.Timestamps[len(w.Timestamps)-1].UTC().Format(layout)
}

func ratioLabel(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
