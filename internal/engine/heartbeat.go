package engine

import (
	"time"

	"workrate/internal/session"
)

const (
	blockMinutes = 5
	blockCapSec  = blockMinutes * 60
)

// heartbeat is the periodic flush: backdated activity-idle check, commit of
// the open window, one heatmap sample.
func (m *Machine) heartbeat(now time.Time) {
	if !m.st.IsRunning {
		return
	}
	m.checkActivityIdle(now)
	m.flush(now)
	m.sample(now, m.st.classify())
	m.st.PeakActivity = 0
	m.st.LastHeartbeat = now
	m.fx.Changed = true
}

// sample adds one tick of the given classification to the heatmap block
// covering now. Every category is capped at the block length.
func (m *Machine) sample(now time.Time, b Bucket) {
	s := &m.st
	hour, block := now.Hour(), now.Minute()/blockMinutes

	i := -1
	for j := range s.Heatmap {
		if s.Heatmap[j].Hour == hour && s.Heatmap[j].Block == block {
			i = j
			break
		}
	}
	if i < 0 {
		s.Heatmap = append(s.Heatmap, session.HeatmapBlock{Hour: hour, Block: block})
		i = len(s.Heatmap) - 1
	}

	hb := &s.Heatmap[i]
	tick := int(m.cfg.Heartbeat / time.Second)
	switch b {
	case BucketVerified:
		hb.VerifiedSec = min(blockCapSec, hb.VerifiedSec+tick)
	case BucketIdle:
		hb.IdleSec = min(blockCapSec, hb.IdleSec+tick)
	default:
		hb.OffTaskSec = min(blockCapSec, hb.OffTaskSec+tick)
	}
	hb.Intensity = min(100, hb.VerifiedSec*100/blockCapSec)
	hb.Activity = max(hb.Activity, s.PeakActivity)
}
