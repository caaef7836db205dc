// Package priority scores pending targets from change history, focus
// window, average duration, and success rate, and breaks ties between
// equal scores deterministically.
package priority

import (
	"math"
	"sort"
	"time"

	"github.com/poltergeist/poltergeist/internal/types"
)

// Config tunes decay and focus windows; zero values fall back to
// reasonable defaults.
type Config struct {
	FocusDetectionWindow time.Duration
	DecayTime            time.Duration
}

func (c Config) focusWindow() time.Duration {
	if c.FocusDetectionWindow > 0 {
		return c.FocusDetectionWindow
	}
	return 30 * time.Second
}

func (c Config) decayTime() time.Duration {
	if c.DecayTime > 0 {
		return c.DecayTime
	}
	return 5 * time.Minute
}

// changeRecord is one entry in a target's recent-change deque.
type changeRecord struct {
	timestamp  time.Time
	changeType types.ChangeType
	impact     float64
}

const maxRecentChanges = 100

// metrics is one target's rolling history feeding the score.
type metrics struct {
	recent            []changeRecord
	lastDirectChange  time.Time
	avgDuration       time.Duration
	successRate       float64
	directChangeCount int
}

// Engine scores targets on demand; nothing here is persisted.
type Engine struct {
	cfg     Config
	targets map[string]*metrics
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, targets: make(map[string]*metrics)}
}

func (e *Engine) metricsFor(target string) *metrics {
	m, ok := e.targets[target]
	if !ok {
		m = &metrics{successRate: 1.0}
		e.targets[target] = m
	}
	return m
}

// RecordChange folds one file change into target's history. direct is
// true when the change falls directly under the target's own watch
// paths (as opposed to a shared path also watched by other targets).
func (e *Engine) RecordChange(target string, ct types.ChangeType, impact float64, direct bool, now time.Time) {
	m := e.metricsFor(target)
	m.recent = append(m.recent, changeRecord{timestamp: now, changeType: ct, impact: impact})
	if len(m.recent) > maxRecentChanges {
		m.recent = m.recent[len(m.recent)-maxRecentChanges:]
	}
	if direct {
		m.lastDirectChange = now
		m.directChangeCount++
	}
}

// RecordBuildResult folds a completed build's duration and outcome into
// target's rolling averages, feeding future scores.
func (e *Engine) RecordBuildResult(target string, duration time.Duration, success bool) {
	m := e.metricsFor(target)
	if m.avgDuration == 0 {
		m.avgDuration = duration
	} else {
		m.avgDuration = (m.avgDuration + duration) / 2
	}
	const alpha = 0.2
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	m.successRate = m.successRate*(1-alpha) + outcome*alpha
}

// changeFrequency returns changes per minute over the decay window,
// used both in scoring and tie-breaking.
func (e *Engine) changeFrequency(m *metrics, now time.Time) float64 {
	window := e.cfg.decayTime()
	count := 0
	for _, c := range m.recent {
		if now.Sub(c.timestamp) <= window {
			count++
		}
	}
	minutes := window.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(count) / minutes
}

func focusMultiplier(m *metrics, window time.Duration, now time.Time) float64 {
	if m.lastDirectChange.IsZero() {
		return 1.0
	}
	if now.Sub(m.lastDirectChange) <= window {
		return 1.5
	}
	return 1.0
}

func recencyDecay(elapsed, decayTime time.Duration) float64 {
	if decayTime <= 0 {
		return 1.0
	}
	return math.Exp(-float64(elapsed) / float64(decayTime))
}

// Score computes target's priority on demand:
//
//	score = base(changeType, impactWeight) × focusMultiplier
//	      × recencyDecay(now − lastDirectChange, decayTime)
//	      + successRateBonus − averageDurationPenalty
//
// clamped to [0, 100].
func (e *Engine) Score(target string, now time.Time) float64 {
	m := e.metricsFor(target)

	base := 50.0
	if len(m.recent) > 0 {
		last := m.recent[len(m.recent)-1]
		base = 50.0 * last.impact
		if base == 0 {
			base = 10.0
		}
	}

	focus := focusMultiplier(m, e.cfg.focusWindow(), now)

	elapsed := now.Sub(m.lastDirectChange)
	if m.lastDirectChange.IsZero() {
		elapsed = e.cfg.decayTime()
	}
	decay := recencyDecay(elapsed, e.cfg.decayTime())

	successBonus := m.successRate * 10.0
	durationPenalty := math.Min(m.avgDuration.Seconds(), 20.0)

	score := base*focus*decay + successBonus - durationPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Candidate is one pending target with its computed score, used for
// ranking in the scheduler.
type Candidate struct {
	Target string
	Score  float64
}

// Rank orders pending targets by score descending, tie-breaking by
// higher direct-change frequency, then smaller average duration, then
// lexicographic name — exactly the order spec.md names.
func (e *Engine) Rank(pending []string, now time.Time) []Candidate {
	candidates := make([]Candidate, len(pending))
	for i, t := range pending {
		candidates[i] = Candidate{Target: t, Score: e.Score(t, now)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ma, mb := e.metricsFor(a.Target), e.metricsFor(b.Target)
		freqA, freqB := e.changeFrequency(ma, now), e.changeFrequency(mb, now)
		if freqA != freqB {
			return freqA > freqB
		}
		if ma.avgDuration != mb.avgDuration {
			return ma.avgDuration < mb.avgDuration
		}
		return a.Target < b.Target
	})
	return candidates
}
