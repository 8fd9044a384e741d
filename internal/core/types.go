package core

import "time"

// ActionClass identifies a family of user-initiated remote actions that
// share one rate limiter.
type ActionClass string

const (
	ActionDiceRoll      ActionClass = "dice_roll"
	ActionChatMessage   ActionClass = "chat_message"
	ActionInviteCode    ActionClass = "invite_code"
	ActionPasswordReset ActionClass = "password_reset"
	ActionAPICall       ActionClass = "api_call"
)

// ActionClasses lists the known classes in display order.
var ActionClasses = []ActionClass{
	ActionDiceRoll,
	ActionChatMessage,
	ActionInviteCode,
	ActionPasswordReset,
	ActionAPICall,
}

// ParseActionClass normalizes a class name. Unknown names return false.
func ParseActionClass(value string) (ActionClass, bool) {
	for _, class := range ActionClasses {
		if string(class) == value {
			return class, true
		}
	}
	return "", false
}

// ChannelStat describes one registered realtime channel.
type ChannelStat struct {
	ID          string        `json:"id"`
	Critical    bool          `json:"critical"`
	Suspended   bool          `json:"suspended"`
	ConnectedAt time.Time     `json:"connected_at"`
	Uptime      time.Duration `json:"uptime"`
}

// SessionStats is a read-only view of a lifecycle manager.
type SessionStats struct {
	Channels       int           `json:"channels"`
	Critical       int           `json:"critical"`
	Idle           bool          `json:"idle"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	ChannelStats   []ChannelStat `json:"channel_stats"`
}

// PushReport summarizes a state push to the store.
type PushReport struct {
	Owner           string  `json:"owner"`
	OriginalSize    int     `json:"original_size"`
	CompactedSize   int     `json:"compacted_size"`
	CompactionRatio float64 `json:"compaction_ratio"`
	StoredBytes     int     `json:"stored_bytes"`
	Parts           int     `json:"parts"`
	Split           bool    `json:"split"`
}
