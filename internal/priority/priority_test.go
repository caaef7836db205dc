package priority

import (
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/types"
)

func TestRankOrdersByScoreDescending(t *testing.T) {
	e := New(Config{})
	now := time.Now()

	e.RecordChange("hot", types.ChangeModified, 1.0, true, now)
	e.RecordChange("cold", types.ChangeModified, 1.0, true, now.Add(-10*time.Minute))

	ranked := e.Rank([]string{"cold", "hot"}, now)
	if ranked[0].Target != "hot" {
		t.Fatalf("expected recently-changed target to rank first, got %v", ranked)
	}
}

func TestRankTieBreaksLexicographically(t *testing.T) {
	e := New(Config{})
	now := time.Now()

	ranked := e.Rank([]string{"zeta", "alpha", "beta"}, now)
	if ranked[0].Target != "alpha" || ranked[1].Target != "beta" || ranked[2].Target != "zeta" {
		t.Fatalf("expected lexicographic tie-break, got %v", ranked)
	}
}

func TestFocusMultiplierExpiresAfterWindow(t *testing.T) {
	e := New(Config{FocusDetectionWindow: time.Minute, DecayTime: time.Hour})
	now := time.Now()
	e.RecordChange("t", types.ChangeModified, 1.0, true, now.Add(-2*time.Minute))

	m := e.metricsFor("t")
	mult := focusMultiplier(m, e.cfg.focusWindow(), now)
	if mult != 1.0 {
		t.Fatalf("expected focus multiplier to expire, got %f", mult)
	}
}

func TestScoreClampedToRange(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	for i := 0; i < 200; i++ {
		e.RecordChange("t", types.ChangeModified, 10.0, true, now)
	}
	score := e.Score("t", now)
	if score < 0 || score > 100 {
		t.Fatalf("expected score in [0,100], got %f", score)
	}
}
