package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
)

func TestLimiterOverrides(t *testing.T) {
	overrides, err := limiterOverrides(map[string]config.RateLimitConfig{
		"dice_roll":    {MaxCalls: 4},
		"Chat_Message": {MaxCalls: 50, Window: time.Minute},
	})
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	dice := overrides[core.ActionDiceRoll]
	assert.Equal(t, 4, dice.MaxCalls)
	assert.Equal(t, engine.DefaultLimits[core.ActionDiceRoll].Window, dice.Window)

	chat := overrides[core.ActionChatMessage]
	assert.Equal(t, engine.RateLimit{MaxCalls: 50, Window: time.Minute}, chat)
}

func TestLimiterOverridesRejectsUnknownClass(t *testing.T) {
	_, err := limiterOverrides(map[string]config.RateLimitConfig{"fireball": {MaxCalls: 1}})
	require.ErrorContains(t, err, `unknown action class "fireball"`)
}

func TestLimiterOverridesEmpty(t *testing.T) {
	overrides, err := limiterOverrides(nil)
	require.NoError(t, err)
	assert.Nil(t, overrides)
}

func TestServicesCloseNil(t *testing.T) {
	var svc *services
	assert.NoError(t, svc.Close())
}
