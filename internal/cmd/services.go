package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
	"github.com/sheetkeeper/sheetkeeper/internal/core/store"
)

// services bundles the components built from one loaded config.
type services struct {
	cfg      *config.Config
	store    *store.Store
	limiters *engine.Limiters
	gate     *engine.Gate
	codec    *compact.Codec
	syncer   *engine.Syncer
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.MaxPartBytes = cfg.Sync.MaxPayloadBytes
	return db, nil
}

// loadServices loads config and wires the store, limiters, codec and syncer.
func loadServices(ctx context.Context, logger *logging.Logger) (*services, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildServices(ctx, cfg, logger)
}

func buildServices(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*services, error) {
	overrides, err := limiterOverrides(cfg.RateLimits)
	if err != nil {
		return nil, err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var windows engine.WindowStore = engine.NewMemoryWindowStore()
	if strings.EqualFold(strings.TrimSpace(cfg.RateLimitStore), config.RateLimitStoreDB) {
		windows = db
	}

	limiters := engine.NewLimiters(engine.LimiterOptions{
		Store:     windows,
		Overrides: overrides,
		Margin:    cfg.RateLimitMargin,
		Logger:    logger,
	})
	gate := &engine.Gate{Limiters: limiters}
	codec := compact.New(logger)

	return &services{
		cfg:      cfg,
		store:    db,
		limiters: limiters,
		gate:     gate,
		codec:    codec,
		syncer: &engine.Syncer{
			Codec:           codec,
			Store:           db,
			Gate:            gate,
			MaxPayloadBytes: cfg.Sync.MaxPayloadBytes,
			Logger:          logger,
		},
	}, nil
}

func (s *services) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// limiterOverrides converts configured limits keyed by class name. Unknown
// class names are rejected so typos do not silently fall back to defaults.
func limiterOverrides(limits map[string]config.RateLimitConfig) (map[core.ActionClass]engine.RateLimit, error) {
	if len(limits) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	overrides := make(map[core.ActionClass]engine.RateLimit, len(limits))
	for _, name := range names {
		class, ok := core.ParseActionClass(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return nil, fmt.Errorf("rate_limits: unknown action class %q", name)
		}
		limit := limits[name]
		base := engine.DefaultLimits[class]
		if limit.MaxCalls > 0 {
			base.MaxCalls = limit.MaxCalls
		}
		if limit.Window > 0 {
			base.Window = limit.Window
		}
		overrides[class] = base
	}
	return overrides, nil
}
