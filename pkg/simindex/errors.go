package simindex

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidVector is returned for vectors containing NaN or Inf values or
	// having zero norm. Such vectors have no direction to compare.
	ErrInvalidVector = errors.New("simindex: invalid vector")

	// ErrEmptyID is returned for descriptors without a ticket id.
	ErrEmptyID = errors.New("simindex: empty ticket id")

	// ErrInvalidK is returned by Query when k < 1.
	ErrInvalidK = errors.New("simindex: k must be at least 1")

	// ErrAlreadyBuilding is returned by Rebuild while another rebuild runs.
	ErrAlreadyBuilding = errors.New("simindex: rebuild already in progress")
)

// DimensionError reports a vector whose length differs from the index
// dimensionality. Nothing is written when it is returned.
type DimensionError struct {
	TicketID string // empty for query vectors
	Want     int
	Got      int
}

func (e *DimensionError) Error() string {
	if e.TicketID == "" {
		return fmt.Sprintf("simindex: query vector has %d dimensions, index has %d", e.Got, e.Want)
	}
	return fmt.Sprintf("simindex: ticket %q has %d dimensions, index has %d", e.TicketID, e.Got, e.Want)
}
