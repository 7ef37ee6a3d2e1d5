package wilson

import (
	"math"
	"testing"
	"time"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestScoreNoEvents(t *testing.T) {
	if got := Score(0, 0); got != DefaultInitialScore {
		t.Errorf("Score(0,0) = %v, want %v", got, DefaultInitialScore)
	}
}

// TestScoreProgression checks the score along a mostly-worked outcome
// history: the lower bound stays conservative at low n and is still below
// the 0.7 promotion threshold at 13 worked to 1 failed (~0.685).
func TestScoreProgression(t *testing.T) {
	tests := []struct {
		worked, failed int
		want           float64
	}{
		{3, 0, 0.438},
		{4, 0, 0.510},
		{5, 0, 0.566},
		{9, 1, 0.596},
		{12, 1, 0.667},
		{13, 1, 0.685},
	}
	for _, tt := range tests {
		got := Score(tt.worked, tt.failed)
		if !approxEqual(got, tt.want, 0.002) {
			t.Errorf("Score(%d,%d) = %v, want ~%v", tt.worked, tt.failed, got, tt.want)
		}
	}
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	got := Score(1000, 0)
	if got < 0 || got > 1 {
		t.Errorf("Score(1000,0) = %v, out of [0,1]", got)
	}
}

func TestEligible(t *testing.T) {
	policy := TierPolicy{MinScore: 0.7, MinUses: 2, MinAge: time.Hour}

	if Eligible(0.69, 5, 2*time.Hour, policy) {
		t.Error("expected ineligible: score below threshold")
	}
	if Eligible(0.9, 1, 2*time.Hour, policy) {
		t.Error("expected ineligible: uses below threshold")
	}
	if Eligible(0.9, 5, 30*time.Minute, policy) {
		t.Error("expected ineligible: age below threshold")
	}
	if !Eligible(0.9, 5, 2*time.Hour, policy) {
		t.Error("expected eligible")
	}
}
