package signal

import (
	"math"
	"time"
)

// SampleSource produces one row of per-bin strengths, in dB, for time t.
// Samples appends to dst and returns it; rows longer than Bins are cut and
// shorter ones are padded with the noise floor.
type SampleSource interface {
	Bins() int
	Samples(t time.Duration, dst []float32) []float32
}

// SpectrumSource is a synthetic spectrum: a flat noise floor with a few
// carriers drifting across the band.
type SpectrumSource struct {
	N     int
	Floor float32
	// Peak is the carrier strength above the floor.
	Peak float32
}

func NewSpectrumSource(bins int) *SpectrumSource {
	if bins < 2 {
		bins = 2
	}
	return &SpectrumSource{N: bins, Floor: DefaultFloor, Peak: 20}
}

func (s *SpectrumSource) Bins() int {
	return s.N
}

func (s *SpectrumSource) Samples(t time.Duration, dst []float32) []float32 {
	secs := t.Seconds()
	carriers := [...]struct{ center, drift, width float64 }{
		{0.25, 0.05, 0.01},
		{0.5, 0.15, 0.02},
		{0.8, 0.03, 0.005},
	}
	for i := 0; i < s.N; i++ {
		f := float64(i) / float64(s.N-1)
		// deterministic ripple in place of receiver noise
		level := float64(s.Floor) + 1.5*math.Sin(f*97+secs*3)
		for _, c := range carriers {
			center := c.center + c.drift*math.Sin(secs*0.5)
			d := (f - center) / c.width
			level += float64(s.Peak) * math.Exp(-d*d/2)
		}
		dst = append(dst, float32(level))
	}
	return dst
}
