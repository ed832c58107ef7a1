package engine

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when the feed answers with none of the universe's symbols.
var ErrNoData = errors.New("feed returned no data for the configured symbols")

// UpstreamFetchError wraps a failure of the feed client.
type UpstreamFetchError struct {
	Points int
	Err    error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("upstream fetch of %d points: %v", e.Points, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }
