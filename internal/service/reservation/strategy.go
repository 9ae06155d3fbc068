package reservation

import (
	"time"

	"github.com/ostrovok-lab/gatecheck/internal/domain"
)

// StrategyConfig tunes the AUTO/MANUAL decision.
type StrategyConfig struct {
	// RushWindow is how long after sale start every request is forced to
	// AUTO, regardless of measured load.
	RushWindow time.Duration
	// RateWindow is the trailing window the hold-creation rate is measured
	// over (the measuring itself happens in redis; this is informational).
	RateWindow time.Duration
	// RateThreshold is the number of holds per RateWindow above which
	// MANUAL selection is suspended.
	RateThreshold int64
}

// SelectMode decides between automatic and manual allocation. It is a pure
// function of its inputs: callers gather the current time, the tier's sale
// start and a recent-rate snapshot, and fail open to AUTO themselves when
// they cannot.
//
// Within RushWindow after sale start the answer is always AUTO, protecting
// the predictable opening spike. Outside it, a recent hold rate at or above
// the threshold also forces AUTO; otherwise MANUAL is allowed.
func SelectMode(now, saleStarts time.Time, recentHolds int64, cfg StrategyConfig) domain.AllocationMode {
	if !saleStarts.IsZero() && !now.Before(saleStarts) && now.Sub(saleStarts) < cfg.RushWindow {
		return domain.AllocAuto
	}

	if cfg.RateThreshold > 0 && recentHolds >= cfg.RateThreshold {
		return domain.AllocAuto
	}

	return domain.AllocManual
}
