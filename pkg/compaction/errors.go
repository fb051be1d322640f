package compaction

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfIteration is returned by Next once every batch was yielded.
	ErrEndOfIteration = errors.New("no more segments to compact")

	// ErrUnknownDatasource marks a configured datasource with no timeline.
	ErrUnknownDatasource = errors.New("unknown datasource")
)

// CorruptStateError reports a stored compaction-state document that could not
// be decoded into its expected shape.
type CorruptStateError struct {
	Datasource string
	SegmentID  string
	Err        error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt compaction state: datasource %q, segment %q: %v", e.Datasource, e.SegmentID, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }
