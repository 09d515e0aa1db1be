package signal

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/pipelines"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
	"github.com/spaghettifunk/envgraph/engine/renderer/rendertest"
)

var fakeSPIRV = []byte{0x03, 0x02, 0x23, 0x07}

var testExtent = metadata.Extent2D{Width: 800, Height: 600}

// countingSource returns a flat row whose value is the number of rows
// produced so far.
type countingSource struct {
	bins  int
	calls int
}

func (c *countingSource) Bins() int { return c.bins }

func (c *countingSource) Samples(t time.Duration, dst []float32) []float32 {
	c.calls++
	for i := 0; i < c.bins; i++ {
		dst = append(dst, float32(c.calls))
	}
	return dst
}

func newPipeline(bins, average, history int) *Pipeline {
	return New(Options{
		VertexShader:   fakeSPIRV,
		FragmentShader: fakeSPIRV,
		Source:         &countingSource{bins: bins},
		Average:        average,
		History:        history,
	})
}

func setupInfo(dev *rendertest.Device, p *Pipeline, binder *renderer.ResourceBinder) *renderer.SetupInfo {
	return &renderer.SetupInfo{
		Device:           dev,
		MemoryProperties: dev.MemoryProperties(),
		QueueFamilies:    dev.QueueFamilies(),
		QueueStart:       metadata.QueueStartIndices{Graphics: 1},
		Requirements:     p.QueueRequirements(),
		RenderPass:       dev.RenderPass(),
		Extent:           testExtent,
		Binder:           binder,
		Logger:           core.NewDiscardLogger(),
	}
}

func setup(t *testing.T, dev *rendertest.Device, p *Pipeline) *renderer.ResourceBinder {
	t.Helper()
	binder := renderer.NewResourceBinder(dev, dev.MemoryProperties(), core.NewDiscardLogger())
	if err := p.Setup(setupInfo(dev, p, binder)); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return binder
}

func recorder(t *testing.T, dev *rendertest.Device) (renderer.CommandBuffer, *rendertest.CommandBuffer) {
	t.Helper()
	pool, err := dev.CreateCommandPool(0)
	if err != nil {
		t.Fatalf("CreateCommandPool: %v", err)
	}
	cb, err := dev.AllocateCommandBuffer(pool)
	if err != nil {
		t.Fatalf("AllocateCommandBuffer: %v", err)
	}
	return cb, cb.(*rendertest.CommandBuffer)
}

func TestAveragerMean(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float32
		want []float32
	}{
		{"empty", nil, []float32{-25, -25}},
		{"one row", [][]float32{{2, 4}}, []float32{2, 4}},
		{"before wrap", [][]float32{{1, 1}, {3, 5}}, []float32{2, 3}},
		{"full", [][]float32{{1, 1}, {2, 2}, {3, 3}}, []float32{2, 2}},
		{"after wrap", [][]float32{{1, 1}, {2, 2}, {3, 3}, {7, 7}}, []float32{4, 4}},
		{"short row padded", [][]float32{{5}}, []float32{5, -25}},
		{"long row cut", [][]float32{{1, 2, 3}}, []float32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAverager(3, 2, DefaultFloor)
			for _, row := range tt.rows {
				a.Add(row)
			}
			got := a.Mean(nil)
			if len(got) != len(tt.want) {
				t.Fatalf("Mean = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Mean = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestAveragerFilled(t *testing.T) {
	a := NewAverager(2, 1, 0)
	for i, want := range []int{1, 2, 2} {
		a.Add([]float32{1})
		if got := a.Filled(); got != want {
			t.Errorf("after %d rows Filled() = %d, want %d", i+1, got, want)
		}
	}
	if got := NewAverager(0, 1, 0).Depth(); got != 1 {
		t.Errorf("Depth() = %d, want 1", got)
	}
}

func TestLineVertices(t *testing.T) {
	tests := []struct {
		in   []float32
		want []float32
	}{
		{nil, nil},
		{[]float32{1}, nil},
		{[]float32{1, 2}, []float32{1, 2}},
		{[]float32{1, 2, 3}, []float32{1, 2, 2, 3}},
	}
	for _, tt := range tests {
		got := LineVertices(tt.in, nil)
		if len(got) != len(tt.want) {
			t.Errorf("LineVertices(%v) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("LineVertices(%v) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

func TestSpectrumSourceSamples(t *testing.T) {
	s := NewSpectrumSource(64)
	a := s.Samples(time.Second, nil)
	if len(a) != s.Bins() {
		t.Fatalf("len(samples) = %d, want %d", len(a), s.Bins())
	}
	b := s.Samples(time.Second, nil)
	var peak float32 = -1000
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bin %d differs between calls for the same time: %v != %v", i, a[i], b[i])
		}
		if math.IsNaN(float64(a[i])) || math.IsInf(float64(a[i]), 0) {
			t.Fatalf("bin %d = %v", i, a[i])
		}
		peak = max(peak, a[i])
	}
	if peak <= s.Floor+s.Peak/2 {
		t.Errorf("strongest bin = %v, want a carrier above %v", peak, s.Floor+s.Peak/2)
	}
	if got := NewSpectrumSource(1).Bins(); got != 2 {
		t.Errorf("Bins() = %d, want 2", got)
	}
}

func TestPreRenderFillsHistorySlots(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(3, 2, 3)
	setup(t, dev, p)

	for i := 0; i < 4; i++ {
		if err := p.PreRender(dev, testExtent); err != nil {
			t.Fatalf("PreRender #%d: %v", i, err)
		}
	}

	// 3 bins make 4 line vertices per row
	const rowSize = 4 * vertexStride
	subs := dev.Submissions()
	if len(subs) != 4 {
		t.Fatalf("submissions = %d, want 4", len(subs))
	}
	for i, want := range []uint64{0, rowSize, 2 * rowSize, 0} {
		var got []metadata.BufferCopy
		for _, c := range subs[i].Commands {
			if c.Op == rendertest.OpCopyBuffer {
				got = append(got, c.Copies...)
			}
		}
		if len(got) != 1 || got[0].DstOffset != want || got[0].Size != rowSize {
			t.Errorf("upload %d copies = %+v, want one row at offset %d", i, got, want)
		}
	}

	data, err := dev.ReadBuffer(p.history.Handle)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	// rows are 1, 2, 3, 4 averaged over two: slot 0 was overwritten by 3.5
	for slot, want := range []float32{3.5, 1.5, 2.5} {
		for v := 0; v < 4; v++ {
			if got := pipelines.Float(data, slot*4+v); got != want {
				t.Errorf("slot %d vertex %d = %v, want %v", slot, v, got, want)
			}
		}
	}

	settings := []float32{3, 3, DefaultStrengthOffset, 0}
	for i, want := range settings {
		if got := pipelines.Float(p.settings.Mapped, i); got != want {
			t.Errorf("settings[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestRenderDrawsFilledRows(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(5, 1, 3)
	setup(t, dev, p)
	cb, rec := recorder(t, dev)

	if err := cb.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := p.Render(dev, cb, testExtent); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if n := len(rec.Commands()); n != 0 {
		t.Errorf("commands before first row = %d, want 0", n)
	}

	// 5 bins make 8 line vertices per row
	tests := []struct {
		frames int
		want   uint32
	}{
		{1, 8},
		{2, 16},
		{3, 24},
		{5, 24},
	}
	done := 0
	for _, tt := range tests {
		for ; done < tt.frames; done++ {
			if err := p.PreRender(dev, testExtent); err != nil {
				t.Fatalf("PreRender: %v", err)
			}
		}
		if err := cb.Begin(true); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := p.Render(dev, cb, testExtent); err != nil {
			t.Fatalf("Render: %v", err)
		}
		cmds := rec.Commands()
		if len(cmds) != 5 {
			t.Fatalf("after %d frames recorded %d commands, want 5", tt.frames, len(cmds))
		}
		if cmds[2].Src != uint64(p.history.Handle) {
			t.Errorf("bound vertex buffer = %d, want %d", cmds[2].Src, p.history.Handle)
		}
		if cmds[4].Op != rendertest.OpDraw || cmds[4].VertexCount != tt.want {
			t.Errorf("after %d frames draw = %s %d, want %s %d", tt.frames, cmds[4].Op, cmds[4].VertexCount, rendertest.OpDraw, tt.want)
		}
	}
}

func TestResizedChangesProjection(t *testing.T) {
	p := newPipeline(4, 1, 1)
	p.Resized(metadata.Extent2D{Width: 600, Height: 600})
	square := p.MVP()
	p.Resized(metadata.Extent2D{Width: 1200, Height: 600})
	if wide := p.MVP(); square.ApproxEqual(wide) {
		t.Errorf("MVP unchanged after aspect change")
	}
}

func TestSetupRejectsSingleBin(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	p := newPipeline(1, 1, 1)
	binder := renderer.NewResourceBinder(dev, dev.MemoryProperties(), core.NewDiscardLogger())
	if err := p.Setup(setupInfo(dev, p, binder)); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Setup err = %v, want %v", err, core.ErrInvalidConfig)
	}
}

func TestCleanupReleasesEverything(t *testing.T) {
	tests := []struct {
		name string
		fail error
	}{
		{"after frames", nil},
		{"after failed setup", errors.New("no pipeline for you")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := rendertest.NewDevice(rendertest.DefaultOptions())
			p := newPipeline(8, 2, 4)
			binder := renderer.NewResourceBinder(dev, dev.MemoryProperties(), core.NewDiscardLogger())
			if tt.fail != nil {
				dev.FailOn("CreateGraphicsPipeline", tt.fail)
				if err := p.Setup(setupInfo(dev, p, binder)); !errors.Is(err, tt.fail) {
					t.Fatalf("Setup err = %v, want %v", err, tt.fail)
				}
			} else {
				if err := p.Setup(setupInfo(dev, p, binder)); err != nil {
					t.Fatalf("Setup: %v", err)
				}
				if err := p.PreRender(dev, testExtent); err != nil {
					t.Fatalf("PreRender: %v", err)
				}
			}
			if err := p.Cleanup(dev); err != nil {
				t.Fatalf("Cleanup: %v", err)
			}
			binder.Release()
			if live := dev.LiveObjects(); len(live) != 0 {
				t.Errorf("live objects after cleanup = %v, want none", live)
			}
		})
	}
}
