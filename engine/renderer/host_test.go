package renderer_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
	"github.com/spaghettifunk/envgraph/engine/renderer/rendertest"
)

func newHost(t *testing.T, dev *rendertest.Device) *renderer.Host {
	t.Helper()
	opts := renderer.DefaultHostOptions()
	opts.Extent = metadata.Extent2D{Width: 800, Height: 600}
	opts.FenceTimeout = time.Millisecond
	h, err := renderer.NewHost(dev, opts, core.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func drawMarkers(s rendertest.Submission) []uint32 {
	var out []uint32
	for _, c := range s.Commands {
		if c.Op == rendertest.OpDraw {
			out = append(out, c.VertexCount)
		}
	}
	return out
}

func TestHostEmptyStartStop(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	if err := h.StartRender(); !errors.Is(err, core.ErrAlreadyRunning) {
		t.Errorf("second StartRender err = %v, want ErrAlreadyRunning", err)
	}
	waitFor(t, "three presents", func() bool { return dev.Presents() >= 3 })
	h.StopRender()
	if h.Running() {
		t.Error("Running() = true after StopRender")
	}

	frames := dev.Frames()
	if len(frames) < 3 {
		t.Fatalf("frames = %d, want at least 3", len(frames))
	}
	wantOps := []string{
		rendertest.OpBeginRenderPass, rendertest.OpSetViewport, rendertest.OpSetScissor, rendertest.OpEndRenderPass,
	}
	for i, f := range frames {
		if len(f.Commands) != len(wantOps) {
			t.Fatalf("frame %d recorded %d commands, want %d", i, len(f.Commands), len(wantOps))
		}
		for j, op := range wantOps {
			if f.Commands[j].Op != op {
				t.Errorf("frame %d command %d = %s, want %s", i, j, f.Commands[j].Op, op)
			}
		}
		if f.Commands[0].Extent != (metadata.Extent2D{Width: 800, Height: 600}) {
			t.Errorf("frame %d render area = %+v, want 800x600", i, f.Commands[0].Extent)
		}
		if f.Commands[0].Clear.Color != [4]float32{0.2, 0.2, 0.2, 0.2} {
			t.Errorf("frame %d clear color = %v", i, f.Commands[0].Clear.Color)
		}
		if f.Waited == metadata.NullHandle || f.Fence == metadata.NullHandle {
			t.Errorf("frame %d submitted without the acquire semaphore or the fence", i)
		}
	}
	if h.Metrics().TotalFrames == 0 {
		t.Error("Metrics().TotalFrames = 0 after rendering")
	}

	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Errorf("live objects after Shutdown = %v, want none", live)
	}
}

func TestHostDrawOrderFollowsRegistration(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	log := &rendertest.EventLog{}
	h.QueuePipelines(3)
	for i, name := range []string{"one", "two", "three"} {
		p := &rendertest.RenderPipeline{
			Pipeline: rendertest.Pipeline{ID: name, Log: log, Req: metadata.QueueRequirements{Graphics: 1}},
			Marker:   uint32(i + 1),
		}
		if _, err := h.NewPipeline(p); err != nil {
			t.Fatalf("NewPipeline(%s): %v", name, err)
		}
	}
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "frames", func() bool { return dev.Presents() >= 4 })
	h.StopRender()

	for i, f := range dev.Frames() {
		got := drawMarkers(f)
		if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
			t.Errorf("frame %d draw order = %v, want [1 2 3]", i, got)
		}
	}
}

func TestHostRenderStageNeedsGraphicsQueue(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	log := &rendertest.EventLog{}
	noQueues := &rendertest.RenderPipeline{Pipeline: rendertest.Pipeline{ID: "idle", Log: log}, Marker: 9}
	compute := &rendertest.ComputePipeline{Pipeline: rendertest.Pipeline{ID: "cmp", Log: log, Req: metadata.QueueRequirements{Compute: 1}}}
	if _, err := h.NewPipeline(noQueues); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := h.NewPipeline(compute); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "frames", func() bool { return dev.Presents() >= 2 })
	h.StopRender()

	if n := log.Count("idle:render"); n != 0 {
		t.Errorf("render called %d times on a pipeline without graphics queues", n)
	}
	if n := log.Count("cmp:compute"); n < 2 {
		t.Errorf("compute called %d times, want at least 2", n)
	}
}

func TestHostPreRenderOnlyWithCapability(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	log := &rendertest.EventLog{}
	plain := &rendertest.RenderPipeline{Pipeline: rendertest.Pipeline{ID: "plain", Log: log, Req: metadata.QueueRequirements{Graphics: 1}}, Marker: 1}
	pre := &rendertest.PreRenderPipeline{RenderPipeline: rendertest.RenderPipeline{
		Pipeline: rendertest.Pipeline{ID: "pre", Log: log, Req: metadata.QueueRequirements{Graphics: 1}},
		Marker:   2,
	}}
	if _, err := h.NewPipeline(plain); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := h.NewPipeline(pre); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	for _, st := range h.Pipelines() {
		if st.State != renderer.PipelineSetUp {
			t.Errorf("%s state = %v, want set up", st.Name, st.State)
		}
	}
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "frames", func() bool { return dev.Presents() >= 3 })
	h.StopRender()

	if n := log.Count("plain:prerender"); n != 0 {
		t.Errorf("prerender called %d times on a pipeline without the stage", n)
	}
	if log.Count("pre:prerender") < 3 {
		t.Errorf("pre:prerender count = %d, want at least 3", log.Count("pre:prerender"))
	}
	// every frame runs its pre-render stages before any render stage
	events := log.Events()
	for i, e := range events {
		if e == "pre:prerender" && i > 0 && events[i-1] == "plain:render" {
			t.Errorf("event %d: pre-render ran after plain:render instead of after the previous frame", i)
		}
	}
}

func TestHostOutOfDateStopsLoop(t *testing.T) {
	tests := []struct {
		name   string
		script func(d *rendertest.Device)
	}{
		{"acquire", func(d *rendertest.Device) {
			d.ScriptAcquire(metadata.Success, metadata.Success, metadata.ErrorOutOfDate)
		}},
		{"present", func(d *rendertest.Device) {
			d.ScriptPresent(metadata.Success, metadata.Suboptimal, metadata.ErrorOutOfDate)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := rendertest.NewDevice(rendertest.DefaultOptions())
			tt.script(dev)
			h := newHost(t, dev)
			defer h.Shutdown()

			if err := h.StartRender(); err != nil {
				t.Fatalf("StartRender: %v", err)
			}
			waitFor(t, "loop to stop", func() bool { return !h.Running() })
			if err := h.Err(); err != nil {
				t.Errorf("Err() = %v, want nil for an out-of-date swapchain", err)
			}
			if n := dev.Presents(); n > 3 {
				t.Errorf("presents = %d after out-of-date, want at most 3", n)
			}
		})
	}
}

func TestHostRebuildsAfterOutOfDate(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	dev.ScriptAcquire(metadata.ErrorOutOfDate)
	h := newHost(t, dev)
	defer h.Shutdown()

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "loop to stop", func() bool { return !h.Running() })

	// same size as before, but the swapchain is stale
	if err := h.UpdateWindowExtents(800, 600); err != nil {
		t.Fatalf("UpdateWindowExtents: %v", err)
	}
	if old := dev.OldSwapchains(); len(old) != 1 {
		t.Errorf("swapchain rebuilds = %d, want 1", len(old))
	}
	waitFor(t, "frames after rebuild", func() bool { return dev.Presents() >= 1 })
	if !h.Running() {
		t.Errorf("render loop not restarted after rebuild")
	}
}

func TestHostFenceTimeoutIsRetried(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	dev.ScriptFenceWait(metadata.Timeout, metadata.NotReady, metadata.Timeout)
	h := newHost(t, dev)
	defer h.Shutdown()

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "frames", func() bool { return dev.Presents() >= 2 })
	h.StopRender()
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestHostDeviceLostReported(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	dev.ScriptFenceWait(metadata.ErrorDeviceLost)
	h := newHost(t, dev)
	defer h.Shutdown()

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "loop to stop", func() bool { return !h.Running() })
	if err := h.Err(); !errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("Err() = %v, want ErrDeviceLost", err)
	}
}

func TestHostResizeRoundTrip(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	p := &rendertest.ResizePipeline{RenderPipeline: rendertest.RenderPipeline{
		Pipeline: rendertest.Pipeline{ID: "r", Req: metadata.QueueRequirements{Graphics: 1}},
		Marker:   1,
	}}
	if _, err := h.NewPipeline(p); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "first frame", func() bool { return dev.Presents() >= 1 })

	// unchanged extent is a no-op
	if err := h.UpdateWindowExtents(800, 600); err != nil {
		t.Fatalf("UpdateWindowExtents(unchanged): %v", err)
	}
	if n := len(p.Extents()); n != 0 {
		t.Errorf("Resized called %d times for an unchanged extent", n)
	}

	if err := h.UpdateWindowExtents(1024, 768); err != nil {
		t.Fatalf("UpdateWindowExtents: %v", err)
	}
	got := p.Extents()
	if len(got) != 1 || got[0] != (metadata.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("Resized extents = %v, want exactly [{1024 768}]", got)
	}
	if h.Extent() != (metadata.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("Extent() = %+v, want 1024x768", h.Extent())
	}
	if len(dev.OldSwapchains()) != 1 {
		t.Errorf("old swapchain passed %d times, want 1", len(dev.OldSwapchains()))
	}
	if !h.Running() {
		t.Error("render loop not restarted after resize")
	}

	before := dev.Presents()
	waitFor(t, "frames after resize", func() bool { return dev.Presents() >= before+2 })
	h.StopRender()
	frames := dev.Frames()
	last := frames[len(frames)-1]
	if last.Commands[0].Extent != (metadata.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("render area after resize = %+v, want 1024x768", last.Commands[0].Extent)
	}
}

func TestHostMinimisedDefersStart(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	if err := h.UpdateWindowExtents(0, 0); err != nil {
		t.Fatalf("UpdateWindowExtents(0, 0): %v", err)
	}
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	if h.Running() {
		t.Fatal("render loop started while minimised")
	}
	// restoring to the same size still rebuilds
	if err := h.UpdateWindowExtents(800, 600); err != nil {
		t.Fatalf("UpdateWindowExtents: %v", err)
	}
	if !h.Running() {
		t.Error("render loop not started after restore")
	}
}

func TestHostShutdownRejectsWork(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	p := &rendertest.RenderPipeline{Pipeline: rendertest.Pipeline{ID: "p", Req: metadata.QueueRequirements{Graphics: 1}}}
	if _, err := h.NewPipeline(p); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.CleanupCalls() != 1 {
		t.Errorf("CleanupCalls() = %d, want 1", p.CleanupCalls())
	}
	if err := h.StartRender(); !errors.Is(err, core.ErrHostShutdown) {
		t.Errorf("StartRender after Shutdown err = %v, want ErrHostShutdown", err)
	}
	if _, err := h.NewPipeline(&rendertest.Pipeline{ID: "late"}); !errors.Is(err, core.ErrHostShutdown) {
		t.Errorf("NewPipeline after Shutdown err = %v, want ErrHostShutdown", err)
	}
	if err := h.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Errorf("live objects after Shutdown = %v, want none", live)
	}
}

func TestHostRegisterWhileRendering(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	waitFor(t, "first empty frame", func() bool { return dev.Presents() >= 1 })

	for i, name := range []string{"one", "two", "three"} {
		p := &rendertest.RenderPipeline{
			Pipeline: rendertest.Pipeline{ID: name, Req: metadata.QueueRequirements{Graphics: 1}},
			Marker:   uint32(i + 1),
		}
		if _, err := h.NewPipeline(p); err != nil {
			t.Fatalf("NewPipeline(%s): %v", name, err)
		}
	}
	want := []uint32{1, 2, 3}
	full := func() bool {
		frames := dev.Frames()
		return len(frames) > 0 && len(drawMarkers(frames[len(frames)-1])) == len(want)
	}
	waitFor(t, "frames drawing every pipeline", full)
	h.StopRender()

	for i, f := range dev.Frames() {
		got := drawMarkers(f)
		if len(got) > len(want) {
			t.Fatalf("frame %d markers = %v, want a prefix of %v", i, got, want)
		}
		for j := range got {
			if got[j] != want[j] {
				t.Errorf("frame %d markers = %v, want a prefix of %v", i, got, want)
				break
			}
		}
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestHostResizeDuringSetupReachesPipeline(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)
	defer h.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	p := &rendertest.ResizePipeline{RenderPipeline: rendertest.RenderPipeline{
		Pipeline: rendertest.Pipeline{
			ID:  "slow",
			Req: metadata.QueueRequirements{Graphics: 1},
			SetupFunc: func(info *renderer.SetupInfo) error {
				close(started)
				<-release
				return nil
			},
		},
		Marker: 1,
	}}

	registered := make(chan error, 1)
	go func() {
		_, err := h.NewPipeline(p)
		registered <- err
	}()
	<-started

	want := metadata.Extent2D{Width: 1024, Height: 768}
	resized := make(chan error, 1)
	go func() { resized <- h.UpdateWindowExtents(want.Width, want.Height) }()
	waitFor(t, "swapchain rebuild", func() bool { return h.Extent() == want })
	close(release)

	if err := <-registered; err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := <-resized; err != nil {
		t.Fatalf("UpdateWindowExtents: %v", err)
	}
	if got := p.Info().Extent; got != (metadata.Extent2D{Width: 800, Height: 600}) {
		t.Errorf("setup extent = %v, want 800x600", got)
	}
	got := p.Extents()
	if len(got) == 0 || got[len(got)-1] != want {
		t.Errorf("Resized extents = %v, want the last to be %v", got, want)
	}
}

func TestHostClampedExtentNotRebuiltAgain(t *testing.T) {
	opts := rendertest.DefaultOptions()
	opts.MaxExtent = metadata.Extent2D{Width: 1000, Height: 700}
	dev := rendertest.NewDevice(opts)
	h := newHost(t, dev)
	defer h.Shutdown()

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.UpdateWindowExtents(1200, 900); err != nil {
			t.Fatalf("UpdateWindowExtents #%d: %v", i, err)
		}
	}
	if got, want := h.Extent(), opts.MaxExtent; got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}
	// one for NewHost, one for the first resize
	if n := dev.SwapchainCreates(); n != 2 {
		t.Errorf("swapchain creates = %d, want 2", n)
	}
	if !h.Running() {
		t.Error("render loop not running after resize")
	}
}

func TestHostRebuildAfterFailedResize(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	h := newHost(t, dev)

	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	boom := errors.New("surface lost")
	dev.FailOn("CreateSwapchain", boom)
	if err := h.UpdateWindowExtents(1024, 768); !errors.Is(err, boom) {
		t.Fatalf("UpdateWindowExtents err = %v, want %v", err, boom)
	}
	if h.Running() {
		t.Error("render loop running without a swapchain")
	}
	// no swapchain to render to, so a restart waits for the next resize
	h.StopRender()
	if err := h.StartRender(); err != nil {
		t.Fatalf("StartRender: %v", err)
	}
	if h.Running() {
		t.Error("render loop started without a swapchain")
	}

	dev.FailOn("CreateSwapchain", nil)
	if err := h.UpdateWindowExtents(1024, 768); err != nil {
		t.Fatalf("UpdateWindowExtents after failure: %v", err)
	}
	// the failed create retired the first swapchain, the retry starts fresh
	if old := dev.OldSwapchains(); len(old) != 1 {
		t.Errorf("old swapchains passed = %v, want exactly one", old)
	}
	if got := h.Extent(); got != (metadata.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("Extent() = %v, want 1024x768", got)
	}
	if !h.Running() {
		t.Error("render loop not restarted after rebuild")
	}

	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if live := dev.LiveObjects(); len(live) != 0 {
		t.Errorf("live objects after Shutdown = %v, want none", live)
	}
}
