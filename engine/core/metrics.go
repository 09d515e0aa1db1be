package core

import (
	"sync"
	"time"

	"github.com/spaghettifunk/envgraph/engine/containers"
)

const AvgCount = 30

// FrameMetrics keeps a rolling frame time average over the last AvgCount
// frames and a frames-per-second figure refreshed once a second. It is fed by
// the render goroutine and read from the control goroutine.
type FrameMetrics struct {
	mu                 sync.Mutex
	samples            *containers.RingQueue[float64]
	sampleSum          float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	total              uint64
}

type MetricsSnapshot struct {
	FPS         float64
	FrameTimeMS float64
	TotalFrames uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		samples: containers.NewRingQueue[float64](AvgCount),
	}
}

func (m *FrameMetrics) Update(frameElapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	if m.samples.IsFull() {
		old, _ := m.samples.Dequeue()
		m.sampleSum -= old
	}
	_ = m.samples.Enqueue(frameMS)
	m.sampleSum += frameMS
	m.msAvg = m.sampleSum / float64(m.samples.Len())

	// Calculate frames per second.
	m.frames++
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.total++
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

func (m *FrameMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		FPS:         m.fps,
		FrameTimeMS: m.msAvg,
		TotalFrames: m.total,
	}
}
