package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// QueueBudget hands out disjoint queue index ranges to pipelines. Claimed
// queues are never returned. When graphics and compute share one device
// family a single counter serves both, so the ranges cannot overlap.
//
// QueueBudget is not safe for concurrent use; the registry guards it.
type QueueBudget struct {
	graphicsTotal     uint32
	graphicsAvailable uint32
	computeTotal      uint32
	computeAvailable  uint32
	shared            bool
}

// NewQueueBudget sizes the budget from the device families. The host submits
// frames on graphics queue 0 as well; the backend serializes access per queue.
func NewQueueBudget(families metadata.QueueFamilyIndices) *QueueBudget {
	b := &QueueBudget{shared: families.SharedComputeFamily()}
	b.graphicsTotal = families.GraphicsCount
	b.computeTotal = families.ComputeCount
	if b.shared {
		b.computeTotal = b.graphicsTotal
	}
	b.graphicsAvailable = b.graphicsTotal
	b.computeAvailable = b.computeTotal
	return b
}

func (b *QueueBudget) GraphicsAvailable() uint32 { return b.graphicsAvailable }
func (b *QueueBudget) ComputeAvailable() uint32  { return b.computeAvailable }
func (b *QueueBudget) GraphicsTotal() uint32     { return b.graphicsTotal }
func (b *QueueBudget) ComputeTotal() uint32      { return b.computeTotal }

// Reserve validates a requirement and returns the start indices it would be
// given, without consuming anything.
func (b *QueueBudget) Reserve(req metadata.QueueRequirements) (metadata.QueueStartIndices, error) {
	if b.shared {
		need := uint64(req.Graphics) + uint64(req.Compute)
		if need > uint64(b.graphicsAvailable) {
			return metadata.QueueStartIndices{}, errors.Wrapf(core.ErrResourceExhausted,
				"requested %d graphics + %d compute queues from a shared family, %d available",
				req.Graphics, req.Compute, b.graphicsAvailable)
		}
		start := b.graphicsTotal - b.graphicsAvailable
		return metadata.QueueStartIndices{Graphics: start, Compute: start + req.Graphics}, nil
	}
	if req.Graphics > b.graphicsAvailable {
		return metadata.QueueStartIndices{}, errors.Wrapf(core.ErrResourceExhausted,
			"requested %d graphics queues, %d available", req.Graphics, b.graphicsAvailable)
	}
	if req.Compute > b.computeAvailable {
		return metadata.QueueStartIndices{}, errors.Wrapf(core.ErrResourceExhausted,
			"requested %d compute queues, %d available", req.Compute, b.computeAvailable)
	}
	return metadata.QueueStartIndices{
		Graphics: b.graphicsTotal - b.graphicsAvailable,
		Compute:  b.computeTotal - b.computeAvailable,
	}, nil
}

// Claim consumes the requested queues and returns the first index of each
// range. A request that does not fit mutates nothing.
func (b *QueueBudget) Claim(req metadata.QueueRequirements) (metadata.QueueStartIndices, error) {
	start, err := b.Reserve(req)
	if err != nil {
		return start, err
	}
	if b.shared {
		b.graphicsAvailable -= req.Graphics + req.Compute
		b.computeAvailable = b.graphicsAvailable
		return start, nil
	}
	b.graphicsAvailable -= req.Graphics
	b.computeAvailable -= req.Compute
	return start, nil
}
