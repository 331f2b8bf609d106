// Package uuid generates collection run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements collector.IDGenerator with time-ordered UUIDv7 values,
// so ledger rows sort by creation time.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
