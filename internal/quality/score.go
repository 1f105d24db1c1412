// Package quality derives the 0-100 work quality index of a session.
package quality

import (
	"fmt"
	"math"

	"workrate/internal/session"
)

// Weights of the three score components. They must sum to 1.
type Weights struct {
	Focus       float64 `mapstructure:"focus"`
	Output      float64 `mapstructure:"output"`
	Consistency float64 `mapstructure:"consistency"`
}

func DefaultWeights() Weights {
	return Weights{Focus: 0.45, Output: 0.30, Consistency: 0.25}
}

func (w Weights) Validate() error {
	if w.Focus < 0 || w.Output < 0 || w.Consistency < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if sum := w.Focus + w.Output + w.Consistency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// OutputSignal supplies the output component in [0,1]. There is no real
// output signal yet; FixedOutput stands in for it.
type OutputSignal interface {
	OutputScore() float64
}

type FixedOutput float64

func (f FixedOutput) OutputScore() float64 { return float64(f) }

const DefaultOutput FixedOutput = 0.76

type Scorer struct {
	Weights Weights
	Output  OutputSignal
}

func NewScorer(w Weights, out OutputSignal) Scorer {
	if out == nil {
		out = DefaultOutput
	}
	return Scorer{Weights: w, Output: out}
}

// FocusRatio is verified time over active (verified + off-task) time.
func FocusRatio(verifiedSec, offTaskSec int64) float64 {
	active := verifiedSec + offTaskSec
	if active < 1 {
		active = 1
	}
	return float64(verifiedSec) / float64(active)
}

// Consistency penalises switching away from registered surfaces.
func Consistency(switches int) float64 {
	if switches <= 2 {
		return 1.0
	}
	return math.Max(0.35, 1-float64(switches-2)*0.09)
}

func (s Scorer) Score(verifiedSec, offTaskSec int64, switches int) int {
	out := DefaultOutput.OutputScore()
	if s.Output != nil {
		out = s.Output.OutputScore()
	}
	raw := FocusRatio(verifiedSec, offTaskSec)*s.Weights.Focus +
		out*s.Weights.Output +
		Consistency(switches)*s.Weights.Consistency
	return int(math.Round(clamp01(raw) * 100))
}

// ScoreSession recomputes the score from a stored session's final buckets.
func (s Scorer) ScoreSession(sess session.Session) int {
	return s.Score(sess.VerifiedSec, sess.OffTaskSec, sess.Switches.OffTask)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
