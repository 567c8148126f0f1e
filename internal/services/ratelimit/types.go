package ratelimit

import (
	"time"
)

// Window kinds. Each kind is an independent fixed window per user.
const (
	WindowBurst     = "burst"
	WindowChannel   = "channel" // suffixed with the channel name
	WindowHighValue = "high_value"
	WindowHourly    = "hourly"
	WindowDaily     = "daily"
)

// WindowCounter is a fixed-window counter. It is lazily reinitialized the
// first time it is touched after ResetAt; no sweep is needed for
// correctness.
type WindowCounter struct {
	Count   int       `json:"count"`
	Amount  int64     `json:"amount"`
	ResetAt time.Time `json:"reset_at"`
}

func (w *WindowCounter) expired(now time.Time) bool {
	return !w.ResetAt.After(now)
}

// BlockRecord is a punitive block, distinct from window exhaustion. While
// BlockedUntil is in the future every withdrawal attempt is rejected
// regardless of balance or window state.
type BlockRecord struct {
	UserID             uint      `json:"user_id"`
	BlockedUntil       time.Time `json:"blocked_until"`
	Reason             string    `json:"reason"`
	SuspiciousActivity int       `json:"suspicious_activity"`
}

// Result is the outcome of a rate-limit check. On success Remaining and
// ResetAt reflect the tightest evaluated window.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Reason    string    `json:"reason,omitempty"`
}

// ChannelLimit caps requests per minute for one withdrawal channel.
// Channels carry different fraud and cost profiles, hence distinct caps.
type ChannelLimit struct {
	MaxPerMinute int
}

// Config holds all window parameters. Zero values are filled with defaults
// by NewService.
type Config struct {
	BurstMax    int
	BurstWindow time.Duration

	Channels       map[string]ChannelLimit
	DefaultChannel ChannelLimit

	// A single request at or above HighValueThreshold is limited to one
	// per HighValueWindow.
	HighValueThreshold int64
	HighValueWindow    time.Duration

	HourlyMaxCount  int
	HourlyMaxAmount int64
	DailyMaxCount   int
	DailyMaxAmount  int64

	// SuspiciousThreshold is how many rejected attempts escalate into an
	// automatic block of SuspiciousBlock duration.
	SuspiciousThreshold int
	SuspiciousBlock     time.Duration
}
