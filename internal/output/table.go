package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// FormatRateWindows renders one row per stored window.
func (f *TableFormatter) FormatRateWindows(windows []core.RateWindow) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Limiter", "Key", "Calls", "Oldest", "Newest"})

	for _, w := range windows {
		oldest, newest := windowBounds(w)
		t.AppendRow(table.Row{w.Limiter, w.Key, len(w.Timestamps), oldest, newest})
	}
	if len(windows) == 0 {
		t.AppendRow(table.Row{"", "(no stored rate windows)", "", "", ""})
	}

	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d window(s)", len(windows)), "", ""})
	return t.Render(), nil
}

func (f *TableFormatter) FormatPushReport(report *core.PushReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"owner", report.Owner},
		{"original size", report.OriginalSize},
		{"compacted size", report.CompactedSize},
		{"compaction ratio", ratioLabel(report.CompactionRatio)},
		{"stored bytes", report.StoredBytes},
		{"parts", report.Parts},
		{"split", report.Split},
	})
	return t.Render(), nil
}

func (f *TableFormatter) FormatSplitAdvice(advice compact.SplitAdvice, maxBytes int) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Size", "Max", "Split", "Parts"})
	t.AppendRow(table.Row{advice.Size, maxBytes, advice.ShouldSplit, advice.RecommendedParts})
	return t.Render(), nil
}
