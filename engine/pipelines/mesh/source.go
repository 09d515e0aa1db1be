package mesh

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// FrameSource produces the point cloud of one frame. Each point is a
// position in xyz and an intensity in w. Frame appends to dst and returns
// it; at most MaxPoints points are drawn.
type FrameSource interface {
	MaxPoints() int
	Frame(t time.Duration, dst []mgl32.Vec4) []mgl32.Vec4
}

// GridSource is an N by N grid on the XZ plane in [-1, 1], displaced by a
// radial wave travelling outwards over time.
type GridSource struct {
	N         int
	Amplitude float32
}

func NewGridSource(n int) *GridSource {
	if n < 2 {
		n = 2
	}
	return &GridSource{N: n, Amplitude: 0.25}
}

func (g *GridSource) MaxPoints() int {
	return g.N * g.N
}

func (g *GridSource) Frame(t time.Duration, dst []mgl32.Vec4) []mgl32.Vec4 {
	phase := t.Seconds() * 2
	step := 2 / float64(g.N-1)
	for row := 0; row < g.N; row++ {
		z := -1 + float64(row)*step
		for col := 0; col < g.N; col++ {
			x := -1 + float64(col)*step
			wave := math.Sin(math.Hypot(x, z)*4 - phase)
			y := float32(wave) * g.Amplitude
			intensity := float32(wave+1) / 2
			dst = append(dst, mgl32.Vec4{float32(x), y, float32(z), intensity})
		}
	}
	return dst
}
