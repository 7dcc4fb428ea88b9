package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingIndicator marks a weekly indicator that could not be computed.
// It is logged and absorbed; the classifier treats the value as no evidence.
var ErrMissingIndicator = errors.New("indicator unavailable")

// NoOnsetFoundError reports that no week of the season met the onset threshold.
type NoOnsetFoundError struct {
	Region Region
	Year   int
}

func (e *NoOnsetFoundError) Error() string {
	return fmt.Sprintf("no monsoon onset found for region %s in %d", e.Region, e.Year)
}

// JobFailedError reports an export job that finished in a failed state.
type JobFailedError struct {
	Chunk  int // -1 for the merged destination export
	Path   string
	Year   int
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("export job for chunk %d (%s) failed: %s", e.Chunk, e.Path, e.Reason)
}

// JobTimeoutError reports an export job that did not resolve within the wait budget.
type JobTimeoutError struct {
	Chunk  int
	Path   string
	Year   int
	Waited time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("export job for chunk %d (%s) timed out after %s", e.Chunk, e.Path, e.Waited)
}

// IncompleteMergeError reports missing year records or chunk outputs. The
// merge refuses to emit partial records.
type IncompleteMergeError struct {
	UID    string
	Year   int
	Chunks []int
}

func (e *IncompleteMergeError) Error() string {
	switch {
	case len(e.Chunks) > 0:
		return fmt.Sprintf("incomplete merge: chunks %v did not complete", e.Chunks)
	case e.UID != "":
		return fmt.Sprintf("incomplete merge: zone %s has no record for %d", e.UID, e.Year)
	default:
		return fmt.Sprintf("incomplete merge: no records for %d", e.Year)
	}
}
