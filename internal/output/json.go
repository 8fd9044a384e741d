package output

import (
	"encoding/json"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatRateWindows(windows []core.RateWindow) (string, error) {
	if windows == nil {
		windows = []core.RateWindow{}
	}
	return f.marshal(windows)
}

func (f *JSONFormatter) FormatPushReport(report *core.PushReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

func (f *JSONFormatter) FormatSplitAdvice(advice compact.SplitAdvice, maxBytes int) (string, error) {
	return f.marshal(struct {
		compact.SplitAdvice
		MaxSizeBytes int `json:"maxSizeBytes"`
	}{advice, maxBytes})
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
