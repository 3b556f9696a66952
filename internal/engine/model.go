package engine

import (
	"context"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/journal"
)

// ModelBinding is the external data model the store is kept in sync with.
// Implemented by binding.Memory and binding.File.
type ModelBinding interface {
	// Value returns the model's current annotations.
	Value() ([]*annotation.Annotation, error)
	// SetViewValue replaces the model's annotations with an export of the store.
	SetViewValue(annotations []*annotation.Annotation) error
}

// Journal records lifecycle transitions. Implemented by *journal.Journal.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

var _ Journal = (*journal.Journal)(nil)
