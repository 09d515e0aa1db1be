package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// Configuration errors surfaced at pipeline setup time.
	ErrResourceExhausted        = errors.New("resource exhausted")
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
	ErrInvalidConfig            = errors.New("invalid configuration")

	// Swapchain and device state.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrDeviceLost         = errors.New("device lost")
	ErrNotInitialized     = errors.New("not initialized")

	// Host lifecycle.
	ErrAlreadyRunning = errors.New("render loop already running")
	ErrHostShutdown   = errors.New("host has been shut down")
	ErrPipelineSetup  = errors.New("pipeline setup failed")

	// Resource binding.
	ErrBindingsFinalized = errors.New("bindings already finalized")
	ErrInvalidBinding    = errors.New("invalid descriptor binding")
	ErrUnknownResource   = errors.New("unknown resource")
)
