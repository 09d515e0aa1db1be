package metadata

// QueueFamilyIndices describes the device queue families the host uses and
// how many queues each of them exposes.
type QueueFamilyIndices struct {
	Graphics      uint32
	Compute       uint32
	Present       uint32
	GraphicsCount uint32
	ComputeCount  uint32
}

// SharedComputeFamily reports whether graphics and compute queues come from
// the same family.
func (q QueueFamilyIndices) SharedComputeFamily() bool {
	return q.Graphics == q.Compute
}

// QueueRequirements is how many queues of each kind a pipeline needs.
type QueueRequirements struct {
	Graphics uint32
	Compute  uint32
}

// QueueStartIndices is the first queue index, per family, a pipeline may use.
type QueueStartIndices struct {
	Graphics uint32
	Compute  uint32
}

/** @brief Result of a device operation that can legitimately not succeed. */
type Result int

const (
	Success Result = iota
	NotReady
	Timeout
	Suboptimal
	ErrorOutOfDate
	ErrorDeviceLost
	ErrorSurfaceLost
	ErrorUnknown
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotReady:
		return "not ready"
	case Timeout:
		return "timeout"
	case Suboptimal:
		return "suboptimal"
	case ErrorOutOfDate:
		return "out of date"
	case ErrorDeviceLost:
		return "device lost"
	case ErrorSurfaceLost:
		return "surface lost"
	default:
		return "unknown error"
	}
}

// IsError reports whether the result is a failure. Timeout, not ready and
// suboptimal are not failures.
func (r Result) IsError() bool {
	return r >= ErrorOutOfDate
}
