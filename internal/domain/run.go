package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunRequest asks for the multi-year drought layer of one block.
type RunRequest struct {
	State     string `json:"state"`
	District  string `json:"district"`
	Block     string `json:"block"`
	StartYear int    `json:"start_year"`
	EndYear   int    `json:"end_year"`
}

// Validate reports a request that cannot be run.
func (r RunRequest) Validate() error {
	switch {
	case r.District == "" || r.Block == "":
		return errors.New("district and block are required")
	case r.StartYear <= 0 || r.EndYear <= 0:
		return fmt.Errorf("invalid year range %d-%d", r.StartYear, r.EndYear)
	case r.StartYear > r.EndYear:
		return fmt.Errorf("start year %d is after end year %d", r.StartYear, r.EndYear)
	}
	return nil
}

// Suffix names the block's assets.
func (r RunRequest) Suffix() string {
	return AssetSuffix(r.District, r.Block)
}

// RunMessage is a run request read from the source topic.
type RunMessage struct {
	Request   RunRequest
	Key       []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}
