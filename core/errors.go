package core

import "fmt"

// ElementError reports a failure confined to one element set. It is
// recorded in the snapshot's skip count and never aborts a batch.
type ElementError struct {
	NoradID int
	Err     error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element %d: %v", e.NoradID, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }
