// Package store persists orchestration instances keyed by the stable input
// identifier. The orchestrator re-reads the persisted instance on every
// trigger and checkpoints after every StageRecord transition, so any Store
// implementation must make Create and Update durable before returning.
package store

import (
	"context"
	"errors"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

var (
	// ErrNotFound is returned when no instance exists for a key.
	ErrNotFound = errors.New("orchestration instance not found")

	// ErrAlreadyExists is returned by Create when another trigger won the
	// race to register the same key. The caller reloads and resumes.
	ErrAlreadyExists = errors.New("orchestration instance already exists")
)

// Store is the durable instance repository.
type Store interface {
	// Create registers a new instance, failing with ErrAlreadyExists when
	// the key is already taken.
	Create(ctx context.Context, inst *models.OrchestrationInstance) error

	// Get loads the instance for a key, or ErrNotFound.
	Get(ctx context.Context, key string) (*models.OrchestrationInstance, error)

	// Update overwrites the persisted instance. The orchestrator serializes
	// writers per key, so last-write-wins semantics are sufficient here.
	Update(ctx context.Context, inst *models.OrchestrationInstance) error

	// List returns up to limit instances, most recently updated first.
	List(ctx context.Context, limit int) ([]*models.OrchestrationInstance, error)

	Close() error
}
