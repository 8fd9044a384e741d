package output

import (
	"fmt"
	"strings"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatRateWindows(windows []core.RateWindow) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate windows\n\n")
	if len(windows) == 0 {
		sb.WriteString("_No stored rate windows._\n")
		return sb.String(), nil
	}

	sb.WriteString("| Limiter | Key | Calls | Oldest | Newest |\n")
	sb.WriteString("|---------|-----|-------|--------|--------|\n")
	for _, w := range windows {
		oldest, newest := windowBounds(w)
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
			escapeMarkdownCell(w.Limiter),
			escapeMarkdownCell(w.Key),
			len(w.Timestamps),
			oldest,
			newest,
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatPushReport(report *core.PushReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## State push for %s\n\n", escapeMarkdownCell(report.Owner)))
	sb.WriteString("| Original | Compacted | Ratio | Stored | Parts |\n")
	sb.WriteString("|----------|-----------|-------|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %s | %d | %d |\n",
		report.OriginalSize,
		report.CompactedSize,
		ratioLabel(report.CompactionRatio),
		report.StoredBytes,
		report.Parts,
	))
	if report.Split {
		sb.WriteString("\n**Split** across multiple parts.\n")
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatSplitAdvice(advice compact.SplitAdvice, maxBytes int) (string, error) {
	verdict := "fits in one part"
	if advice.ShouldSplit {
		verdict = fmt.Sprintf("split into %d parts", advice.RecommendedParts)
	}
	return fmt.Sprintf("**Payload**: %d bytes (max %d), %s\n", advice.Size, maxBytes, verdict), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
