package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
	"github.com/sheetkeeper/sheetkeeper/internal/metrics"
)

// ErrInvalidState is returned for pushes that are not a JSON object.
var ErrInvalidState = errors.New("state must be a JSON object")

// StateStore persists encoded state documents per owner.
type StateStore interface {
	SaveState(ctx context.Context, owner string, encoded []byte) (int, error)
	LoadState(ctx context.Context, owner string) ([]byte, error)
}

// Syncer moves state trees between clients and the store. Trees are
// compacted on the way in and expanded on the way out.
type Syncer struct {
	Codec *compact.Codec
	Store StateStore
	Gate  *Gate
	// MaxPayloadBytes is the split threshold reported back to callers.
	MaxPayloadBytes int
	Logger          *logging.Logger
}

// Push compacts and stores state for owner. Already compacted payloads are
// stored as they are.
func (s *Syncer) Push(ctx context.Context, owner string, state any) (*core.PushReport, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	if s.Store == nil {
		return nil, errors.New("state store is not configured")
	}

	var report *core.PushReport
	err := s.Gate.Run(ctx, core.ActionAPICall, owner, func(ctx context.Context) error {
		var payload *compact.Payload
		switch compact.Classify(state) {
		case compact.KindState:
			compacted, err := s.codec().CompactState(state.(map[string]any))
			if err != nil {
				return err
			}
			payload = compacted
		case compact.KindCompacted:
			decoded, err := asCompacted(state)
			if err != nil {
				return err
			}
			payload = decoded
		default:
			return ErrInvalidState
		}

		encoded, err := compact.Encode(payload)
		if err != nil {
			return err
		}

		parts, err := s.Store.SaveState(ctx, owner, encoded)
		if err != nil {
			return fmt.Errorf("save state: %w", err)
		}

		advice := compact.AdviseSize(len(encoded), s.MaxPayloadBytes)
		report = &core.PushReport{
			Owner:           owner,
			OriginalSize:    payload.OriginalSize,
			CompactedSize:   payload.CompactedSize,
			CompactionRatio: payload.CompactionRatio,
			StoredBytes:     len(encoded),
			Parts:           parts,
			Split:           advice.ShouldSplit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCompaction(report.CompactionRatio, report.StoredBytes)
	if s.Logger != nil {
		s.Logger.Info("state pushed",
			zap.String("owner", owner),
			zap.Int("original_size", report.OriginalSize),
			zap.Int("stored_bytes", report.StoredBytes),
			zap.Int("parts", report.Parts))
	}
	return report, nil
}

// Pull loads and expands the state stored for owner.
func (s *Syncer) Pull(ctx context.Context, owner string) (map[string]any, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	if s.Store == nil {
		return nil, errors.New("state store is not configured")
	}

	var state map[string]any
	err := s.Gate.Run(ctx, core.ActionAPICall, owner, func(ctx context.Context) error {
		data, err := s.Store.LoadState(ctx, owner)
		if err != nil {
			return err
		}

		decoded, err := compact.Decode(data)
		if err != nil {
			return err
		}

		expanded, ok := s.codec().Expand(decoded).(map[string]any)
		if !ok {
			return fmt.Errorf("stored state for %s is not an object", owner)
		}
		state = expanded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Syncer) codec() *compact.Codec {
	if s.Codec != nil {
		return s.Codec
	}
	return compact.New(s.Logger)
}

func asCompacted(v any) (*compact.Payload, error) {
	switch value := v.(type) {
	case *compact.Payload:
		return value, nil
	case compact.Payload:
		return &value, nil
	}

	data, err := compact.Encode(v)
	if err != nil {
		return nil, err
	}
	decoded, err := compact.Decode(data)
	if err != nil {
		return nil, err
	}
	payload, ok := decoded.(*compact.Payload)
	if !ok {
		return nil, ErrInvalidState
	}
	return payload, nil
}
