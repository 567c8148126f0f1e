package ratelimit

import "time"

// Default window parameters. Amounts are minor units.
const (
	DefaultBurstMax    = 20
	DefaultBurstWindow = 10 * time.Second

	DefaultChannelPerMinute = 6

	DefaultHighValueThreshold = int64(100_000)
	DefaultHighValueWindow    = 5 * time.Minute

	DefaultHourlyMaxCount  = 50
	DefaultHourlyMaxAmount = int64(500_000)
	DefaultDailyMaxCount   = 200
	DefaultDailyMaxAmount  = int64(2_000_000)

	DefaultSuspiciousThreshold = 10
	DefaultSuspiciousBlock     = 30 * time.Minute
)

// Rejection reasons returned in Result.Reason
const (
	ReasonBlocked       = "user temporarily blocked"
	ReasonBurst         = "too many requests, slow down"
	ReasonChannel       = "channel rate limit exceeded"
	ReasonHighValue     = "high-value withdrawal cooldown active"
	ReasonHourlyCount   = "hourly request limit exceeded"
	ReasonHourlyAmount  = "hourly amount limit exceeded"
	ReasonDailyCount    = "daily request limit exceeded"
	ReasonDailyAmount   = "daily amount limit exceeded"
)

// Reset scopes accepted by ResetLimits
const (
	ScopeBurst = "burst"
	ScopeAll   = "all"
)
