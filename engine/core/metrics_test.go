package core

import (
	"math"
	"testing"
	"time"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < AvgCount; i++ {
		m.Update(10 * time.Millisecond)
	}
	if got := m.FrameTime(); math.Abs(got-10) > 1e-9 {
		t.Errorf("FrameTime() = %v, want 10", got)
	}
	// the window only keeps the last AvgCount samples
	for i := 0; i < AvgCount; i++ {
		m.Update(20 * time.Millisecond)
	}
	if got := m.FrameTime(); math.Abs(got-20) > 1e-9 {
		t.Errorf("FrameTime() = %v, want 20", got)
	}
	if got := m.Snapshot().TotalFrames; got != 2*AvgCount {
		t.Errorf("TotalFrames = %d, want %d", got, 2*AvgCount)
	}
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	if m.FPS() != 0 {
		t.Errorf("FPS() before a full second = %v, want 0", m.FPS())
	}
	// 101 frames of 10ms cross the one second boundary once
	for i := 0; i < 101; i++ {
		m.Update(10 * time.Millisecond)
	}
	if got := m.FPS(); got != 101 {
		t.Errorf("FPS() = %v, want 101", got)
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	if c.Elapsed() != 0 {
		t.Errorf("Elapsed() on a stopped clock = %v, want 0", c.Elapsed())
	}
	c.Start()
	time.Sleep(2 * time.Millisecond)
	c.Update()
	e := c.Elapsed()
	if e <= 0 {
		t.Errorf("Elapsed() = %v, want > 0", e)
	}
	c.Stop()
	time.Sleep(time.Millisecond)
	c.Update()
	if c.Elapsed() != e {
		t.Errorf("Elapsed() changed after Stop: %v -> %v", e, c.Elapsed())
	}
}
