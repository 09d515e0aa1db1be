package renderer_test

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
	"github.com/spaghettifunk/envgraph/engine/renderer/rendertest"
)

func newRegistry(dev *rendertest.Device) *renderer.Registry {
	return renderer.NewRegistry(renderer.SetupEnvironment{
		Device:           dev,
		MemoryProperties: dev.MemoryProperties(),
		QueueFamilies:    dev.QueueFamilies(),
		RenderPass:       dev.RenderPass(),
		Extent:           func() metadata.Extent2D { return metadata.Extent2D{Width: 640, Height: 480} },
	}, core.NewDiscardLogger())
}

func stateOf(t *testing.T, r *renderer.Registry, name string) renderer.PipelineState {
	t.Helper()
	for _, s := range r.Statuses() {
		if s.Name == name {
			return s.State
		}
	}
	t.Fatalf("pipeline %q not registered", name)
	return 0
}

func TestRegistryNewPipelineSetsUpImmediately(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	p := &rendertest.Pipeline{ID: "a", Req: metadata.QueueRequirements{Graphics: 1}}

	id, err := r.NewPipeline(p)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if id.String() == "" {
		t.Error("record has no id")
	}
	if p.SetupCalls() != 1 {
		t.Errorf("SetupCalls() = %d, want 1", p.SetupCalls())
	}
	if got := stateOf(t, r, "a"); got != renderer.PipelineSetUp {
		t.Errorf("state = %v, want %v", got, renderer.PipelineSetUp)
	}
	info := p.Info()
	if info.Extent != (metadata.Extent2D{Width: 640, Height: 480}) {
		t.Errorf("setup extent = %+v, want 640x480", info.Extent)
	}
	if info.Binder == nil || info.Logger == nil {
		t.Error("setup info is missing the binder or the logger")
	}
	if len(r.Active()) != 1 {
		t.Errorf("len(Active()) = %d, want 1", len(r.Active()))
	}
}

func TestRegistryPendingDefersSetup(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	a := &rendertest.Pipeline{ID: "a", Req: metadata.QueueRequirements{Graphics: 1}}
	b := &rendertest.Pipeline{ID: "b", Req: metadata.QueueRequirements{Graphics: 1}}

	r.QueuePipelines(2)
	// announced pipelines have no record until they are registered
	if n, p := len(r.Statuses()), r.Pending(); n != 0 || p != 2 {
		t.Errorf("records, pending = %d, %d, want 0, 2", n, p)
	}
	if _, err := r.NewPipeline(a); err != nil {
		t.Fatalf("NewPipeline(a): %v", err)
	}
	if a.SetupCalls() != 0 {
		t.Errorf("a set up while b is still pending")
	}
	if st := r.Statuses(); len(st) != 1 || st[0].State != renderer.PipelineRegistered {
		t.Errorf("statuses = %+v, want a single registered record", st)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}
	if _, err := r.NewPipeline(b); err != nil {
		t.Fatalf("NewPipeline(b): %v", err)
	}
	if a.SetupCalls() != 1 || b.SetupCalls() != 1 {
		t.Errorf("setup calls = (%d, %d), want (1, 1)", a.SetupCalls(), b.SetupCalls())
	}
}

func TestRegistryDequeueClampsAndTriggersSetup(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	a := &rendertest.Pipeline{ID: "a", Req: metadata.QueueRequirements{Graphics: 1}}

	r.QueuePipelines(3)
	if _, err := r.NewPipeline(a); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if a.SetupCalls() != 0 {
		t.Fatal("setup ran with pipelines pending")
	}
	if err := r.DequeuePipelines(10); err != nil {
		t.Fatalf("DequeuePipelines: %v", err)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", r.Pending())
	}
	if a.SetupCalls() != 1 {
		t.Errorf("SetupCalls() = %d, want 1", a.SetupCalls())
	}
	if err := r.DequeuePipelines(1); err != nil {
		t.Fatalf("DequeuePipelines at zero: %v", err)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() after extra dequeue = %d, want 0", r.Pending())
	}
}

func TestRegistryCreateComponentPipelinesIdempotent(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	a := &rendertest.Pipeline{ID: "a", Req: metadata.QueueRequirements{Graphics: 1, Compute: 1}}

	r.QueuePipelines(1)
	if _, err := r.NewPipeline(a); err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	g, c := r.Budget()
	for i := 0; i < 3; i++ {
		if err := r.CreateComponentPipelines(); err != nil {
			t.Fatalf("CreateComponentPipelines: %v", err)
		}
	}
	if a.SetupCalls() != 1 {
		t.Errorf("SetupCalls() = %d, want 1", a.SetupCalls())
	}
	g2, c2 := r.Budget()
	if g != g2 || c != c2 {
		t.Errorf("budget changed from (%d, %d) to (%d, %d)", g, c, g2, c2)
	}
	if len(r.Active()) != 1 {
		t.Errorf("len(Active()) = %d, want 1", len(r.Active()))
	}
}

func TestRegistryFourQueueScenario(t *testing.T) {
	opts := rendertest.DefaultOptions()
	opts.Families = metadata.QueueFamilyIndices{Graphics: 0, Compute: 1, Present: 0, GraphicsCount: 4, ComputeCount: 4}
	dev := rendertest.NewDevice(opts)
	r := newRegistry(dev)

	a := &rendertest.Pipeline{ID: "a", Req: metadata.QueueRequirements{Graphics: 2}}
	b := &rendertest.Pipeline{ID: "b", Req: metadata.QueueRequirements{Graphics: 2}}
	c := &rendertest.Pipeline{ID: "c", Req: metadata.QueueRequirements{Graphics: 1}}

	if _, err := r.NewPipeline(a); err != nil {
		t.Fatalf("NewPipeline(a): %v", err)
	}
	if _, err := r.NewPipeline(b); err != nil {
		t.Fatalf("NewPipeline(b): %v", err)
	}
	_, err := r.NewPipeline(c)
	if !errors.Is(err, core.ErrResourceExhausted) {
		t.Fatalf("NewPipeline(c) err = %v, want ErrResourceExhausted", err)
	}
	if !errors.Is(err, core.ErrPipelineSetup) {
		t.Errorf("NewPipeline(c) err = %v, want it marked ErrPipelineSetup", err)
	}

	if got := a.Info().QueueStart.Graphics; got != 0 {
		t.Errorf("a graphics start = %d, want 0", got)
	}
	if got := b.Info().QueueStart.Graphics; got != 2 {
		t.Errorf("b graphics start = %d, want 2", got)
	}
	if c.SetupCalls() != 0 {
		t.Errorf("c was set up without queues")
	}
	if got := stateOf(t, r, "c"); got != renderer.PipelineFailed {
		t.Errorf("c state = %v, want %v", got, renderer.PipelineFailed)
	}
	if n := len(r.Active()); n != 2 {
		t.Errorf("len(Active()) = %d, want 2", n)
	}
}

func TestRegistryFailedSetupIsIsolated(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	boom := errors.New("shader missing")

	bad := &rendertest.Pipeline{
		ID:  "bad",
		Req: metadata.QueueRequirements{Graphics: 1},
		SetupFunc: func(info *renderer.SetupInfo) error {
			// leave a partial allocation behind
			_, err := info.Binder.AllocateBuffer(1, 64, metadata.BufferUsageVertex, metadata.MemoryPropertyDeviceLocal)
			if err != nil {
				return err
			}
			return boom
		},
	}
	good := &rendertest.Pipeline{ID: "good", Req: metadata.QueueRequirements{Graphics: 1}}

	r.QueuePipelines(2)
	if _, err := r.NewPipeline(bad); err != nil {
		t.Fatalf("NewPipeline(bad) before setup pass: %v", err)
	}
	_, err := r.NewPipeline(good)
	if !errors.Is(err, boom) {
		t.Fatalf("setup pass err = %v, want %v", err, boom)
	}
	if bad.CleanupCalls() != 1 {
		t.Errorf("bad CleanupCalls() = %d, want 1", bad.CleanupCalls())
	}
	if got := stateOf(t, r, "good"); got != renderer.PipelineSetUp {
		t.Errorf("good state = %v, want %v", got, renderer.PipelineSetUp)
	}
	if got := good.Info().QueueStart.Graphics; got != 0 {
		t.Errorf("good graphics start = %d, want 0 (failed setup must not consume queues)", got)
	}
	if live := dev.LiveObjects(); live["buffer"] != 0 || live["memory"] != 0 {
		t.Errorf("partial resources leaked: %v", live)
	}
	for _, s := range r.Statuses() {
		if s.Name == "bad" && s.Err == nil {
			t.Error("failed pipeline has no recorded error")
		}
	}
}

func TestRegistryCleanupAll(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	log := &rendertest.EventLog{}
	names := []string{"first", "second", "third"}
	for _, n := range names {
		p := &rendertest.Pipeline{
			ID:  n,
			Log: log,
			SetupFunc: func(info *renderer.SetupInfo) error {
				_, err := info.Binder.AllocateBuffer(1, 16, metadata.BufferUsageUniform, metadata.MemoryPropertyHostVisible)
				return err
			},
		}
		if _, err := r.NewPipeline(p); err != nil {
			t.Fatalf("NewPipeline(%s): %v", n, err)
		}
	}

	if err := r.CleanupAll(); err != nil {
		t.Fatalf("CleanupAll: %v", err)
	}
	var cleanups []string
	for _, e := range log.Events() {
		if len(e) > 8 && e[len(e)-8:] == ":cleanup" {
			cleanups = append(cleanups, e[:len(e)-8])
		}
	}
	if len(cleanups) != len(names) {
		t.Fatalf("cleanups = %v, want %v", cleanups, names)
	}
	for i := range names {
		if cleanups[i] != names[i] {
			t.Errorf("cleanup %d = %s, want %s", i, cleanups[i], names[i])
		}
	}
	if n := dev.LiveCount(); n != 0 {
		t.Errorf("LiveCount() = %d after CleanupAll, want 0", n)
	}
	if _, err := r.NewPipeline(&rendertest.Pipeline{ID: "late"}); !errors.Is(err, core.ErrHostShutdown) {
		t.Errorf("NewPipeline after CleanupAll err = %v, want ErrHostShutdown", err)
	}
	if err := r.CleanupAll(); err != nil {
		t.Errorf("second CleanupAll: %v", err)
	}
}

func TestRegistryNotifyResizedSkipsFailed(t *testing.T) {
	dev := rendertest.NewDevice(rendertest.DefaultOptions())
	r := newRegistry(dev)
	ok := &rendertest.ResizePipeline{RenderPipeline: rendertest.RenderPipeline{
		Pipeline: rendertest.Pipeline{ID: "ok", Req: metadata.QueueRequirements{Graphics: 1}},
	}}
	failed := &rendertest.ResizePipeline{RenderPipeline: rendertest.RenderPipeline{
		Pipeline: rendertest.Pipeline{ID: "failed", SetupErr: errors.New("boom")},
	}}
	if _, err := r.NewPipeline(ok); err != nil {
		t.Fatalf("NewPipeline(ok): %v", err)
	}
	if _, err := r.NewPipeline(failed); err == nil {
		t.Fatalf("NewPipeline(failed) err = nil, want the setup error")
	}

	ext := metadata.Extent2D{Width: 320, Height: 200}
	r.NotifyResized(ext)
	if got := ok.Extents(); len(got) != 1 || got[0] != ext {
		t.Errorf("set-up pipeline extents = %v, want [%v]", got, ext)
	}
	if got := failed.Extents(); len(got) != 0 {
		t.Errorf("failed pipeline extents = %v, want none", got)
	}
}
