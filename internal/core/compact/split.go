package compact

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxSizeBytes is the largest serialized document the store tier
// accepts in a single part.
const DefaultMaxSizeBytes = 800000

// SplitAdvice classifies a payload by serialized size.
type SplitAdvice struct {
	ShouldSplit      bool `json:"shouldSplit"`
	Size             int  `json:"size"`
	RecommendedParts int  `json:"recommendedParts"`
}

// ShouldSplit measures v and reports whether it must be partitioned into
// parts no larger than maxSizeBytes. It does not partition anything.
// Byte slices are taken as already serialized.
func ShouldSplit(v any, maxSizeBytes int) (SplitAdvice, error) {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}

	var size int
	switch value := v.(type) {
	case []byte:
		size = len(value)
	case json.RawMessage:
		size = len(value)
	default:
		data, err := marshal(v)
		if err != nil {
			return SplitAdvice{}, fmt.Errorf("measure payload: %w", err)
		}
		size = len(data)
	}

	return AdviseSize(size, maxSizeBytes), nil
}

// AdviseSize classifies an already measured size.
func AdviseSize(size, maxSizeBytes int) SplitAdvice {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}

	advice := SplitAdvice{Size: size, RecommendedParts: 1}
	if size > maxSizeBytes {
		advice.ShouldSplit = true
		advice.RecommendedParts = (size + maxSizeBytes - 1) / maxSizeBytes
	}
	return advice
}
