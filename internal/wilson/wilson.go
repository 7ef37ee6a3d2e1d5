// Package wilson implements the Wilson-score reputation math and the
// promotion-eligibility predicate built on it.
package wilson

import (
	"math"
	"time"
)

// DefaultZ is the z-score for a 95% confidence interval.
const DefaultZ = 1.96

// DefaultInitialScore is the score assigned to an item with no outcomes
// yet.
const DefaultInitialScore = 0.5

// Score computes the lower bound of the Wilson confidence interval for a
// proportion of worked/failed events. Partial and unknown outcomes do not
// contribute to n.
func Score(worked, failed int) float64 {
	return ScoreZ(worked, failed, DefaultZ)
}

// ScoreZ is Score with an explicit z, for tests and alternate confidence levels.
func ScoreZ(worked, failed int, z float64) float64 {
	n := float64(worked + failed)
	if n == 0 {
		return DefaultInitialScore
	}
	phat := float64(worked) / n
	z2 := z * z

	numerator := phat + z2/(2*n) - z*math.Sqrt((phat*(1-phat)+z2/(4*n))/n)
	denominator := 1 + z2/n

	score := numerator / denominator
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// TierPolicy is the promotion-eligibility threshold set for one transition.
type TierPolicy struct {
	MinScore float64
	MinUses  int
	MinAge   time.Duration
}

// Eligible reports whether an item with the given Wilson score, use count,
// and age satisfies a tier's promotion policy:
// eligible iff wilson_score >= tier.min_score AND uses >= tier.min_uses AND
// (now - created_at) >= tier.min_age.
func Eligible(wilsonScore float64, uses int, age time.Duration, policy TierPolicy) bool {
	return wilsonScore >= policy.MinScore && uses >= policy.MinUses && age >= policy.MinAge
}
