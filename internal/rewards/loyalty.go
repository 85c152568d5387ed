package rewards

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loyalty tier multipliers. Tiers are keyed on whole days staked; a wallet
// promotes the instant it crosses a boundary and demotes only when its
// anchor resets.
var (
	multiplierBase     = decimal.NewFromInt(1)
	multiplierWeek     = decimal.RequireFromString("1.1")
	multiplierMonth    = decimal.RequireFromString("1.3")
	multiplierTwoMonth = decimal.RequireFromString("1.4")
	multiplierQuarter  = decimal.RequireFromString("1.5")
)

// StakingDays returns the whole days elapsed since the loyalty anchor.
// Partial days do not count.
func StakingDays(firstStakedAt, now time.Time) int {
	if firstStakedAt.IsZero() || now.Before(firstStakedAt) {
		return 0
	}
	hours := now.Sub(firstStakedAt).Hours()
	return int(hours / 24)
}

// Multiplier maps whole staking days onto a loyalty tier multiplier.
func Multiplier(stakingDays int) decimal.Decimal {
	switch {
	case stakingDays >= 90:
		return multiplierQuarter
	case stakingDays >= 60:
		return multiplierTwoMonth
	case stakingDays >= 30:
		return multiplierMonth
	case stakingDays >= 7:
		return multiplierWeek
	default:
		return multiplierBase
	}
}
