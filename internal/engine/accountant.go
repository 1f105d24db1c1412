package engine

import (
	"math"
	"time"
)

type Bucket string

const (
	BucketVerified Bucket = "verified"
	BucketOffTask  Bucket = "off_task"
	BucketIdle     Bucket = "idle"
)

// classify names the bucket the open window is currently accruing into.
func (s *State) classify() Bucket {
	switch {
	case s.ClockRunning:
		return BucketVerified
	case s.Idle.SystemIdle || s.Idle.ActivityIdle:
		return BucketIdle
	default:
		return BucketOffTask
	}
}

func roundSeconds(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}

// flush credits the window [WindowStart, at) to the bucket of the current
// classification and returns the seconds credited. The window start moves
// by exactly the credited seconds, so a sub-second remainder carries into
// the next window instead of being lost or counted twice.
func (m *Machine) flush(at time.Time) int64 {
	s := &m.st
	if !s.IsRunning {
		return 0
	}
	if s.WindowStart.IsZero() {
		s.WindowStart = at
		return 0
	}

	d := at.Sub(s.WindowStart)
	if d < 0 {
		// The carried remainder can put the window start up to half a
		// second ahead of at. Anything beyond that is the wall clock
		// stepping backwards.
		if d < -time.Second {
			s.WindowStart = at
		}
		return 0
	}
	elapsed := roundSeconds(d)
	if elapsed == 0 {
		return 0
	}

	switch s.classify() {
	case BucketVerified:
		s.Buckets.VerifiedSec += elapsed
	case BucketIdle:
		s.Buckets.IdleSec += elapsed
	default:
		s.Buckets.OffTaskSec += elapsed
	}
	s.WindowStart = s.WindowStart.Add(time.Duration(elapsed) * time.Second)
	return elapsed
}
