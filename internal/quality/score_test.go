package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workrate/internal/session"
)

func TestConsistency(t *testing.T) {
	assert.Equal(t, 1.0, Consistency(0))
	assert.Equal(t, 1.0, Consistency(2))
	assert.InDelta(t, 0.91, Consistency(3), 1e-9)
	assert.InDelta(t, 0.73, Consistency(5), 1e-9)
	assert.Equal(t, 0.35, Consistency(40))
}

func TestFocusRatioNeverDividesByZero(t *testing.T) {
	assert.Equal(t, 0.0, FocusRatio(0, 0))
	assert.Equal(t, 1.0, FocusRatio(3600, 0))
	assert.InDelta(t, 0.25, FocusRatio(10, 30), 1e-9)
}

func TestScoreFiveSwitchesFullFocus(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	// 1*0.45 + 0.76*0.30 + 0.73*0.25 = 0.8605
	assert.Equal(t, 86, s.Score(3600, 0, 5))
}

func TestScoreIsDeterministic(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	a := session.Session{Buckets: session.Buckets{VerifiedSec: 1200, OffTaskSec: 300, IdleSec: 90}, Switches: session.Switches{OffTask: 4}}
	b := a
	b.ID = "other"
	b.Task = "different task"
	assert.Equal(t, s.ScoreSession(a), s.ScoreSession(b))
	assert.Equal(t, s.Score(1200, 300, 4), s.ScoreSession(a))
}

func TestScoreUsesPluggableOutput(t *testing.T) {
	low := NewScorer(DefaultWeights(), FixedOutput(0))
	high := NewScorer(DefaultWeights(), FixedOutput(1))
	assert.Equal(t, 70, low.Score(100, 0, 0))
	assert.Equal(t, 100, high.Score(100, 0, 0))
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Focus: 0.5, Output: 0.5, Consistency: 0.5}.Validate())
	assert.Error(t, Weights{Focus: -0.1, Output: 0.6, Consistency: 0.5}.Validate())
}
