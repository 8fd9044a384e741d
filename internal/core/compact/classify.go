// Package compact shrinks the persisted application state tree before it
// crosses the store boundary and restores it on the way back.
//
// Compaction is a lossy allow-list reduction, not a backup format: entity
// fields that are not on the allow-list are dropped permanently.
package compact

// Kind tags a value arriving at the codec boundary.
type Kind int

const (
	// KindUnrecognized is anything that is not a JSON object, including nil.
	KindUnrecognized Kind = iota
	// KindState is a full, uncompacted state tree.
	KindState
	// KindCompacted is a payload produced by Compact.
	KindCompacted
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindCompacted:
		return "compacted"
	default:
		return "unrecognized"
	}
}

// Classify decides once, up front, what v is.
func Classify(v any) Kind {
	switch value := v.(type) {
	case *Payload:
		if value != nil && value.Compressed {
			return KindCompacted
		}
		return KindUnrecognized
	case Payload:
		if value.Compressed {
			return KindCompacted
		}
		return KindUnrecognized
	case map[string]any:
		if value == nil {
			return KindUnrecognized
		}
		if marker, ok := value[markerKey].(bool); ok && marker {
			return KindCompacted
		}
		return KindState
	default:
		return KindUnrecognized
	}
}

// IsCompacted reports whether v carries a compacted marker that is exactly true.
func IsCompacted(v any) bool {
	return Classify(v) == KindCompacted
}
