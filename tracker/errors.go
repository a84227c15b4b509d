package tracker

import "errors"

// ErrInsufficientHistory is returned when a diff is requested with fewer
// than two ingested snapshots.
var ErrInsufficientHistory = errors.New("tracker: need at least two snapshots to diff")

// ErrNoSnapshot is returned when a referenced snapshot id does not exist.
var ErrNoSnapshot = errors.New("tracker: no such snapshot")
