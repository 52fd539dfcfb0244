package store

import (
	"context"

	"github.com/phrazzld/shotstudio/internal/domain"
)

// GenerationRecordStore persists finished generations so a reload can
// recover them after the in-memory registry is gone.
type GenerationRecordStore interface {
	// Persist writes record and its outputs atomically. It returns
	// ErrRecordExists if the task already has a record.
	Persist(ctx context.Context, record *domain.GenerationRecord) error

	// LookupByTaskID returns the record written for taskID, or
	// ErrGenerationRecordNotFound.
	LookupByTaskID(ctx context.Context, taskID string) (*domain.GenerationRecord, error)

	// WithTx returns a store bound to tx.
	WithTx(tx DBTX) GenerationRecordStore
}
