package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
)

// ErrRateLimited is matched by every RateLimitError.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError reports a denied action.
type RateLimitError struct {
	Class      core.ActionClass
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s for %q, retry in %s", ErrRateLimited, e.Class, e.Key, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: %s for %q", ErrRateLimited, e.Class, e.Key)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Gate admits user-initiated remote actions through the per-class limiters.
type Gate struct {
	Limiters *Limiters
}

// Check consumes one call for (class, key) and returns a *RateLimitError
// when the window is full.
func (g *Gate) Check(ctx context.Context, class core.ActionClass, key string) error {
	if g == nil || g.Limiters == nil {
		return nil
	}

	key = strings.TrimSpace(key)
	limiter := g.Limiters.For(class)
	if limiter == nil {
		return nil
	}

	if limiter.IsAllowed(ctx, key) {
		return nil
	}

	return &RateLimitError{
		Class:      class,
		Key:        key,
		RetryAfter: limiter.RetryAfter(ctx, key),
	}
}

// Run invokes fn only when (class, key) is admitted.
func (g *Gate) Run(ctx context.Context, class core.ActionClass, key string, fn func(context.Context) error) error {
	if err := g.Check(ctx, class, key); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Remaining reports the calls left for (class, key) without consuming one.
func (g *Gate) Remaining(ctx context.Context, class core.ActionClass, key string) int {
	if g == nil || g.Limiters == nil {
		return 0
	}
	return g.Limiters.For(class).Remaining(ctx, strings.TrimSpace(key))
}

// Reset clears the window for (class, key).
func (g *Gate) Reset(ctx context.Context, class core.ActionClass, key string) {
	if g == nil || g.Limiters == nil {
		return
	}
	g.Limiters.For(class).Reset(ctx, strings.TrimSpace(key))
}
