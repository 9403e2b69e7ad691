package domain

import (
	"errors"
	"fmt"
)

// ErrCellNotFound is returned when a cell, or the editing surface of a cell,
// cannot be resolved.
var ErrCellNotFound = errors.New("cell not found")

// ErrSessionNotReady is returned when a kernel session has not been started.
var ErrSessionNotReady = errors.New("kernel session not ready")

// ErrSessionFailed is returned when the kernel session could not be started.
var ErrSessionFailed = errors.New("kernel session failed")

// ErrNotLoaded is returned when executing against a notebook whose document failed to load.
var ErrNotLoaded = errors.New("notebook not loaded")

// ErrSnapshotNotFound is returned when a snapshot key cannot be found in the store.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrUnsupportedFormat is returned by document stores for unknown file formats.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// CellError scopes an error to a single cell.
type CellError struct {
	CellID string
	Err    error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell %s: %v", e.CellID, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

// ErrKernelDisconnected is reported by transports when the kernel goes away mid-execution.
var ErrKernelDisconnected = errors.New("kernel disconnected")
