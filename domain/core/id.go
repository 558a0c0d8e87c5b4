package core

import (
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// RunID identifies a tracked run
type RunID ID

func (id RunID) String() string { return ID(id).String() }

// NewRunID returns a 32 character lowercase hex run identifier, the format
// tracking servers use for run IDs.
func NewRunID() RunID {
	return RunID(strings.ReplaceAll(NewID().String(), "-", ""))
}
