// Package asset defines the seam to the output asset store: the place where
// computed zone tables are exported as asynchronous jobs, read back and
// published.
package asset

import (
	"context"
	"errors"

	"github.com/paulmach/orb/geojson"
)

// ErrNotFound is returned by Read when no asset exists at the path.
var ErrNotFound = errors.New("asset not found")

// JobHandle identifies a submitted export job.
type JobHandle string

// Status is the state an export job reports.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// JobStatus is a polled export job state. Message carries the store's reason
// for a failed job.
type JobStatus struct {
	Status  Status
	Message string
}

// Sink stores zone tables under slash-separated asset paths.
type Sink interface {
	Exists(ctx context.Context, path string) (bool, error)
	Export(ctx context.Context, fc *geojson.FeatureCollection, description, path string) (JobHandle, error)
	JobStatus(ctx context.Context, h JobHandle) (JobStatus, error)
	MakePublic(ctx context.Context, path string) error
	Read(ctx context.Context, path string) (*geojson.FeatureCollection, error)
}
