package main

import (
	"errors"

	"github.com/RyanBlaney/sonido-density/capture"
)

// Process exit codes.
const (
	exitOK = iota
	exitError
	exitQueueFull
	exitSettleFailed
	exitStopHard
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, capture.ErrQueueFull):
		return exitQueueFull
	case errors.Is(err, capture.ErrSettleFailed):
		return exitSettleFailed
	case errors.Is(err, capture.ErrStopHard):
		return exitStopHard
	default:
		return exitError
	}
}
