package domain

import "errors"

var (
	// ErrStaleSnapshot is returned when a writer tries to save a snapshot
	// that was reconciled against an outdated base version
	ErrStaleSnapshot = errors.New("stale snapshot, retry with a fresh snapshot")

	// ErrSnapshotNotFound is returned when no snapshot has been persisted yet
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrPropertyNotFound is returned when a property is not found
	ErrPropertyNotFound = errors.New("property not found")

	// ErrNoRows is returned when an uploaded file contains no data rows
	ErrNoRows = errors.New("upload contains no data rows")

	// ErrUnsupportedFormat is returned when an uploaded file is neither CSV nor XLSX
	ErrUnsupportedFormat = errors.New("unsupported upload format")
)
