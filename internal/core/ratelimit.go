package core

import "time"

// RateWindow holds the call instants recorded for one key of one limiter,
// oldest first.
type RateWindow struct {
	Limiter    string      `json:"limiter"`
	Key        string      `json:"key"`
	Timestamps []time.Time `json:"timestamps"`
	UpdatedAt  time.Time   `json:"updated_at,omitempty"`
}

// Prune returns the timestamps newer than cutoff, preserving order.
func (w RateWindow) Prune(cutoff time.Time) []time.Time {
	kept := make([]time.Time, 0, len(w.Timestamps))
	for _, ts := range w.Timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
