package service

import "errors"

// Common service errors. Handlers translate these into HTTP error codes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("student already has an active test")
	ErrTestEnded    = errors.New("test has ended")
	ErrTestPaused   = errors.New("test is paused")
	ErrTestNotEnded = errors.New("test has not ended yet")
	ErrComplete     = errors.New("all questions have been answered")
)
