package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// QueueSet is the range of queues a pipeline claimed in one family, together
// with a command pool for that family.
type QueueSet struct {
	Family uint32
	Queues []metadata.QueueHandle
	Pool   metadata.CommandPoolHandle
}

// NewQueueSet fetches queues [start, start+count) of family and creates a
// command pool for them. A zero count yields an empty set without a pool.
func NewQueueSet(device Device, family, start, count uint32) (*QueueSet, error) {
	qs := &QueueSet{Family: family}
	if count == 0 {
		return qs, nil
	}
	for i := start; i < start+count; i++ {
		q, err := device.GetQueue(family, i)
		if err != nil {
			return nil, errors.Wrapf(err, "get queue %d of family %d", i, family)
		}
		qs.Queues = append(qs.Queues, q)
	}
	pool, err := device.CreateCommandPool(family)
	if err != nil {
		return nil, errors.Wrapf(err, "create command pool for family %d", family)
	}
	qs.Pool = pool
	return qs, nil
}

func (qs *QueueSet) Empty() bool {
	return qs == nil || len(qs.Queues) == 0
}

// Queue returns the first queue of the set.
func (qs *QueueSet) Queue() metadata.QueueHandle {
	if qs.Empty() {
		return metadata.NullHandle
	}
	return qs.Queues[0]
}

func (qs *QueueSet) Destroy(device Device) {
	if qs == nil || qs.Pool == metadata.NullHandle {
		return
	}
	device.DestroyCommandPool(qs.Pool)
	qs.Pool = metadata.NullHandle
}

// SubmitOneShot records a command buffer with record, submits it on the
// first queue of the set and waits for the queue to go idle.
func (qs *QueueSet) SubmitOneShot(device Device, record func(cb CommandBuffer) error) error {
	if qs.Empty() {
		return errors.New("one-shot submit on an empty queue set")
	}
	return SubmitOneShot(device, qs.Pool, qs.Queue(), record)
}

func SubmitOneShot(device Device, pool metadata.CommandPoolHandle, queue metadata.QueueHandle, record func(cb CommandBuffer) error) error {
	cb, err := device.AllocateCommandBuffer(pool)
	if err != nil {
		return errors.Wrap(err, "allocate one-shot command buffer")
	}
	defer device.FreeCommandBuffer(pool, cb)

	if err := cb.Begin(true); err != nil {
		return errors.Wrap(err, "begin one-shot command buffer")
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return errors.Wrap(err, "end one-shot command buffer")
	}
	if res := device.QueueSubmit(queue, cb, metadata.NullHandle, metadata.NullHandle); res.IsError() {
		return errors.Wrapf(resultError(res), "submit one-shot command buffer")
	}
	return device.QueueWaitIdle(queue)
}

// TransitionImage records a layout transition covering the whole range of
// an image, picking access masks and stages for the common upload cases.
func TransitionImage(cb CommandBuffer, image metadata.ImageHandle, rng metadata.ImageSubresourceRange, from, to metadata.ImageLayout) {
	barrier := metadata.ImageBarrier{Image: image, OldLayout: from, NewLayout: to, Range: rng}
	src, dst := metadata.PipelineStageTopOfPipe, metadata.PipelineStageTransfer
	switch {
	case from == metadata.ImageLayoutUndefined && to == metadata.ImageLayoutTransferDstOptimal:
		barrier.DstAccess = metadata.AccessTransferWrite
	case from == metadata.ImageLayoutTransferDstOptimal && to == metadata.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccess = metadata.AccessTransferWrite
		barrier.DstAccess = metadata.AccessShaderRead
		src, dst = metadata.PipelineStageTransfer, metadata.PipelineStageFragmentShader
	default:
		src, dst = metadata.PipelineStageTopOfPipe, metadata.PipelineStageBottomOfPipe
	}
	cb.PipelineBarrier(src, dst, []metadata.ImageBarrier{barrier})
}

// resultError converts a failing device result to a marked error.
func resultError(res metadata.Result) error {
	switch res {
	case metadata.ErrorOutOfDate:
		return errors.Mark(errors.Newf("device result: %s", res), core.ErrSwapchainOutOfDate)
	case metadata.ErrorDeviceLost:
		return errors.Mark(errors.Newf("device result: %s", res), core.ErrDeviceLost)
	default:
		return errors.Newf("device result: %s", res)
	}
}
