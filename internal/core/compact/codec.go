package compact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

const (
	// PayloadVersion is the schema version stamped on compacted payloads.
	PayloadVersion = "2.0"
	// DefaultThemeColor is restored when the payload carries no theme.
	DefaultThemeColor = "#33ff33"

	markerKey     = "compressed"
	configKey     = "config"
	entitiesKey   = "characters"
	themeColorKey = "themeColor"
)

// Display modes copied between config and metadata. All default to false.
var displayModes = []string{"crtMode", "compactMode", "lowPerformanceMode", "hackerMode"}

// Top-level one-shot flags carried through metadata unchanged.
var oneShotFlags = []string{"hasSeenTip"}

// Payload is the compacted form of a state tree.
type Payload struct {
	Compressed      bool                      `json:"compressed"`
	Version         string                    `json:"version"`
	OriginalSize    int                       `json:"originalSize"`
	CompactedSize   int                       `json:"compactedSize,omitempty"`
	CompactionRatio float64                   `json:"compactionRatio,omitempty"`
	Metadata        map[string]any            `json:"metadata"`
	Entities        map[string]map[string]any `json:"entities"`
}

// Codec compacts and expands state trees.
type Codec struct {
	// Clock stamps created/updated on expanded entities that lost them.
	Clock  func() time.Time
	Logger *logging.Logger
}

// New returns a codec using the wall clock.
func New(logger *logging.Logger) *Codec {
	return &Codec{Logger: logger}
}

// Compact returns the compacted payload for a state tree. Any other input,
// including an already compacted payload, is returned unchanged; callers
// check IsCompacted before assuming a transformation happened.
func (c *Codec) Compact(v any) any {
	if Classify(v) != KindState {
		return v
	}

	payload, err := c.CompactState(v.(map[string]any))
	if err != nil {
		c.debug("compaction skipped", zap.Error(err))
		return v
	}
	return payload
}

// CompactState reduces state to a Payload.
func (c *Codec) CompactState(state map[string]any) (*Payload, error) {
	original, err := marshal(state)
	if err != nil {
		return nil, fmt.Errorf("measure state: %w", err)
	}

	payload := &Payload{
		Compressed:   true,
		Version:      PayloadVersion,
		OriginalSize: len(original),
		Metadata:     make(map[string]any),
		Entities:     make(map[string]map[string]any),
	}

	if config, ok := state[configKey].(map[string]any); ok {
		if theme, ok := config[themeColorKey]; ok {
			payload.Metadata[themeColorKey] = theme
		}
		for _, mode := range displayModes {
			if value, ok := config[mode]; ok {
				payload.Metadata[mode] = value
			}
		}
	}

	if entities, ok := state[entitiesKey].(map[string]any); ok {
		for id, raw := range entities {
			entity, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			payload.Entities[id] = reduceEntity(entity)
		}
	}

	for _, flag := range oneShotFlags {
		if value, ok := state[flag]; ok {
			payload.Metadata[flag] = value
		}
	}

	compacted, err := marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("measure payload: %w", err)
	}
	payload.CompactedSize = len(compacted)
	if payload.OriginalSize > 0 {
		payload.CompactionRatio = float64(payload.OriginalSize-payload.CompactedSize) / float64(payload.OriginalSize) * 100
	}

	c.debug("state compacted",
		zap.Int("original_size", payload.OriginalSize),
		zap.Int("compacted_size", payload.CompactedSize),
		zap.Float64("ratio_percent", payload.CompactionRatio),
		zap.Int("entities", len(payload.Entities)))

	return payload, nil
}

// Expand restores a state tree from a compacted payload. Input without a
// compacted marker is returned unchanged, which makes Expand idempotent.
func (c *Codec) Expand(v any) any {
	if Classify(v) != KindCompacted {
		return v
	}

	payload, err := asPayload(v)
	if err != nil {
		c.debug("expansion skipped", zap.Error(err))
		return v
	}
	return c.ExpandPayload(payload)
}

// ExpandPayload rebuilds the state tree, filling structural defaults that
// the payload does not carry.
func (c *Codec) ExpandPayload(payload *Payload) map[string]any {
	now := c.now().UTC().Format(timestampLayout)

	characters := make(map[string]any, len(payload.Entities))
	for id, stored := range payload.Entities {
		characters[id] = expandEntity(stored, now)
	}

	config := map[string]any{themeColorKey: DefaultThemeColor}
	for _, mode := range displayModes {
		config[mode] = false
	}
	if theme, ok := payload.Metadata[themeColorKey]; ok {
		config[themeColorKey] = theme
	}
	for _, mode := range displayModes {
		if value, ok := payload.Metadata[mode]; ok {
			config[mode] = value
		}
	}

	state := map[string]any{
		configKey:   config,
		entitiesKey: characters,
	}
	for _, flag := range oneShotFlags {
		if value, ok := payload.Metadata[flag]; ok {
			state[flag] = value
		}
	}
	return state
}

// Encode serializes a state tree or payload for storage.
func Encode(v any) ([]byte, error) {
	data, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// marshal serializes v the way sizes are measured: compact JSON without
// HTML escaping and without the encoder's trailing newline.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses stored bytes. Compacted documents come back as *Payload,
// everything else as the generic JSON value.
func Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if Classify(v) != KindCompacted {
		return v, nil
	}
	return asPayload(v)
}

func asPayload(v any) (*Payload, error) {
	switch value := v.(type) {
	case *Payload:
		return value, nil
	case Payload:
		return &value, nil
	case map[string]any:
		payload := &Payload{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           payload,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create payload decoder: %w", err)
		}
		if err := decoder.Decode(value); err != nil {
			return nil, fmt.Errorf("decode compacted payload: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

func (c *Codec) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Codec) debug(msg string, fields ...zap.Field) {
	if c == nil || c.Logger == nil {
		return
	}
	c.Logger.Debug(msg, fields...)
}
