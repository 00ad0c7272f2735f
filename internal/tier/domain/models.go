package domain

import (
	"time"

	userdomain "github.com/siteloom/growth/internal/user/domain"
)

// Boost pairs the categorical level with the multiplier applied to scoring.
type Boost struct {
	Level       userdomain.BoostLevel
	Coefficient float64
}

// ClassifyBoost maps lifetime external shares onto a boost classification.
// The thresholds are fixed algorithm constants, not configuration.
func ClassifyBoost(totalShares int64) Boost {
	switch {
	case totalShares <= 0:
		return Boost{Level: userdomain.BoostNone, Coefficient: 1.0}
	case totalShares <= 5:
		return Boost{Level: userdomain.BoostBronze, Coefficient: 1.2}
	case totalShares <= 15:
		return Boost{Level: userdomain.BoostSilver, Coefficient: 1.5}
	case totalShares <= 50:
		return Boost{Level: userdomain.BoostGold, Coefficient: 2.0}
	case totalShares <= 100:
		return Boost{Level: userdomain.BoostPlatinum, Coefficient: 2.5}
	default:
		return Boost{Level: userdomain.BoostViral, Coefficient: 3.0}
	}
}

// ClassifyCommission maps whole months of referral relationship onto a
// commission tier. The rate comes from CommissionTier.Rate.
func ClassifyCommission(relationshipMonths int) userdomain.CommissionTier {
	switch {
	case relationshipMonths <= 12:
		return userdomain.CommissionNew
	case relationshipMonths <= 48:
		return userdomain.CommissionEstablished
	default:
		return userdomain.CommissionLegacy
	}
}

// RelationshipMonths counts whole calendar months elapsed since activatedAt.
// A partial month does not count, so a referral activated 13 months minus a
// day ago still reports 12.
func RelationshipMonths(activatedAt, now time.Time) int {
	if !activatedAt.Before(now) {
		return 0
	}
	months := (now.Year()-activatedAt.Year())*12 + int(now.Month()) - int(activatedAt.Month())
	if now.Day() < activatedAt.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
