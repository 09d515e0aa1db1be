package renderer

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type PipelineState int

const (
	PipelineRegistered PipelineState = iota
	PipelineSetUp
	PipelineCleanedUp
	PipelineFailed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineRegistered:
		return "registered"
	case PipelineSetUp:
		return "set up"
	case PipelineCleanedUp:
		return "cleaned up"
	case PipelineFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PipelineRecord is the host's bookkeeping for one registered pipeline.
// Fields other than state and err are fixed once the record is set up.
type PipelineRecord struct {
	ID           uuid.UUID
	Pipeline     Pipeline
	QueueStart   metadata.QueueStartIndices
	Requirements metadata.QueueRequirements
	Binder       *ResourceBinder

	caps   capabilities
	state  PipelineState
	err    error
	logger *core.Logger
}

func (r *PipelineRecord) Name() string            { return r.Pipeline.Name() }
func (r *PipelineRecord) HasPreRenderStage() bool { return r.caps.preRender }
func (r *PipelineRecord) HasComputeStage() bool   { return r.caps.compute }
func (r *PipelineRecord) HasRenderStage() bool    { return r.caps.render }
func (r *PipelineRecord) HasResizeListener() bool { return r.caps.resize }
func (r *PipelineRecord) Logger() *core.Logger    { return r.logger }

// PipelineStatus is a point-in-time view of a record.
type PipelineStatus struct {
	ID    uuid.UUID
	Name  string
	State PipelineState
	Err   error
}

// SetupEnvironment provides the per-host values every pipeline setup needs.
type SetupEnvironment struct {
	Device           Device
	MemoryProperties metadata.MemoryProperties
	QueueFamilies    metadata.QueueFamilyIndices
	RenderPass       metadata.RenderPassHandle
	Extent           func() metadata.Extent2D
}

// Registry owns the pipeline records and the queue budget.
//
// Registration protocol: a producer announces n upcoming pipelines with
// QueuePipelines(n), then calls NewPipeline once per pipeline. Each
// NewPipeline consumes one announcement; when none remain the setup pass
// runs. A producer that gives up on announced pipelines calls
// DequeuePipelines. NewPipeline without an announcement sets up immediately.
// CreateComponentPipelines forces a setup pass and is idempotent.
type Registry struct {
	mu      sync.Mutex
	env     SetupEnvironment
	logger  *core.Logger
	budget  *QueueBudget
	records []*PipelineRecord
	closed  bool

	pending atomic.Int64
	// active is replaced, never mutated, so readers can use it without a lock.
	active atomic.Pointer[[]*PipelineRecord]
}

func NewRegistry(env SetupEnvironment, logger *core.Logger) *Registry {
	if logger == nil {
		logger = core.NewDiscardLogger()
	}
	r := &Registry{
		env:    env,
		logger: logger.Named("registry"),
		budget: NewQueueBudget(env.QueueFamilies),
	}
	empty := []*PipelineRecord{}
	r.active.Store(&empty)
	return r
}

// QueuePipelines announces n pipelines that will be registered later.
func (r *Registry) QueuePipelines(n uint32) {
	r.pending.Add(int64(n))
}

// DequeuePipelines withdraws n announcements. The counter never goes below
// zero. When it reaches zero the setup pass runs for anything registered
// in the meantime.
func (r *Registry) DequeuePipelines(n uint32) error {
	if r.decrementPending(int64(n)) == 0 {
		return r.CreateComponentPipelines()
	}
	return nil
}

func (r *Registry) decrementPending(n int64) int64 {
	for {
		cur := r.pending.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if r.pending.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (r *Registry) Pending() uint32 {
	return uint32(r.pending.Load())
}

// NewPipeline registers a pipeline. If no further pipelines are pending the
// setup pass runs before returning and its error, if any, is returned. The
// record is registered even when its setup fails.
func (r *Registry) NewPipeline(p Pipeline) (uuid.UUID, error) {
	if p == nil {
		return uuid.Nil, errors.New("nil pipeline")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return uuid.Nil, errors.Wrapf(core.ErrHostShutdown, "register %s", p.Name())
	}
	rec := &PipelineRecord{
		ID:       uuid.New(),
		Pipeline: p,
		caps:     detectCapabilities(p),
		state:    PipelineRegistered,
	}
	rec.logger = r.logger.WithFields("pipeline", p.Name(), "id", rec.ID.String())
	r.records = append(r.records, rec)
	rec.logger.Info("pipeline registered", "prerender", rec.caps.preRender, "render", rec.caps.render, "compute", rec.caps.compute)

	var err error
	if r.decrementPending(1) == 0 {
		err = r.setupPassLocked()
	}
	r.mu.Unlock()
	return rec.ID, err
}

// CreateComponentPipelines sets up every registered pipeline that is not yet
// set up. Pipelines that fail are marked failed and skipped; the combined
// error of this pass is returned.
func (r *Registry) CreateComponentPipelines() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Wrap(core.ErrHostShutdown, "create component pipelines")
	}
	return r.setupPassLocked()
}

func (r *Registry) setupPassLocked() error {
	var combined error
	added := false
	for _, rec := range r.records {
		if rec.state != PipelineRegistered {
			continue
		}
		if err := r.setupRecordLocked(rec); err != nil {
			combined = errors.CombineErrors(combined, err)
			continue
		}
		added = true
	}
	if added {
		r.publishLocked()
	}
	return combined
}

func (r *Registry) setupRecordLocked(rec *PipelineRecord) error {
	p := rec.Pipeline
	req := p.QueueRequirements()
	rec.Requirements = req

	start, err := r.budget.Reserve(req)
	if err != nil {
		return r.failLocked(rec, err)
	}
	rec.QueueStart = start
	rec.Binder = NewResourceBinder(r.env.Device, r.env.MemoryProperties, rec.logger)

	var extent metadata.Extent2D
	if r.env.Extent != nil {
		extent = r.env.Extent()
	}
	info := &SetupInfo{
		Device:           r.env.Device,
		MemoryProperties: r.env.MemoryProperties,
		QueueFamilies:    r.env.QueueFamilies,
		QueueStart:       start,
		Requirements:     req,
		RenderPass:       r.env.RenderPass,
		Extent:           extent,
		Binder:           rec.Binder,
		Logger:           rec.logger,
	}
	if err := p.Setup(info); err != nil {
		if cerr := p.Cleanup(r.env.Device); cerr != nil {
			rec.logger.Warn("cleanup after failed setup", "err", cerr)
		}
		rec.Binder.Release()
		return r.failLocked(rec, err)
	}
	if _, err := r.budget.Claim(req); err != nil {
		// Reserve succeeded under the same lock, so this cannot happen.
		return r.failLocked(rec, err)
	}
	rec.state = PipelineSetUp
	rec.logger.Info("pipeline set up",
		"graphicsStart", start.Graphics, "graphics", req.Graphics,
		"computeStart", start.Compute, "compute", req.Compute)
	return nil
}

func (r *Registry) failLocked(rec *PipelineRecord, cause error) error {
	rec.state = PipelineFailed
	rec.err = errors.Wrapf(errors.Mark(cause, core.ErrPipelineSetup), "pipeline %s", rec.Name())
	rec.logger.Error("pipeline setup failed", "err", cause)
	return rec.err
}

func (r *Registry) publishLocked() {
	active := make([]*PipelineRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.state == PipelineSetUp {
			active = append(active, rec)
		}
	}
	r.active.Store(&active)
}

// Active returns the set-up pipelines in registration order. The returned
// slice must not be modified.
func (r *Registry) Active() []*PipelineRecord {
	return *r.active.Load()
}

// NotifyResized passes extent to every set-up resize listener. It holds the
// registration lock, so a pipeline whose setup overlaps a resize is notified
// once that setup returns.
func (r *Registry) NotifyResized(extent metadata.Extent2D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.state == PipelineSetUp && rec.caps.resize {
			rec.Pipeline.(ResizeListener).Resized(extent)
		}
	}
}

func (r *Registry) Statuses() []PipelineStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PipelineStatus, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, PipelineStatus{ID: rec.ID, Name: rec.Name(), State: rec.state, Err: rec.err})
	}
	return out
}

func (r *Registry) Budget() (graphicsAvailable, computeAvailable uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget.GraphicsAvailable(), r.budget.ComputeAvailable()
}

// CleanupAll releases every set-up pipeline in registration order and closes
// the registry. The device must be idle and the render loop stopped.
func (r *Registry) CleanupAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	empty := []*PipelineRecord{}
	r.active.Store(&empty)

	var combined error
	for _, rec := range r.records {
		switch rec.state {
		case PipelineSetUp:
			if err := rec.Pipeline.Cleanup(r.env.Device); err != nil {
				combined = errors.CombineErrors(combined, errors.Wrapf(err, "cleanup pipeline %s", rec.Name()))
			}
			rec.Binder.Release()
			rec.state = PipelineCleanedUp
			rec.logger.Debug("pipeline cleaned up")
		case PipelineRegistered:
			rec.state = PipelineCleanedUp
		}
	}
	return combined
}
