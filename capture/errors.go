package capture

import "errors"

var (
	// ErrSettleFailed is returned when a settle step times out.
	ErrSettleFailed = errors.New("input did not settle")
	// ErrQueueFull is returned when the producer outran the pipeline.
	ErrQueueFull = errors.New("sample queue overflow")
	// ErrStopHard is returned when the operator requested an immediate stop.
	ErrStopHard = errors.New("hard stop requested")
	// ErrQueueClosed is returned by puts after Close.
	ErrQueueClosed = errors.New("sample queue closed")
	// ErrNonFinite is returned by sources that read NaN or infinite samples.
	ErrNonFinite = errors.New("sample is not finite")
)
