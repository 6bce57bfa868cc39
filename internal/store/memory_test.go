package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

func TestMemoryStoreCreateGetUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := models.NewInputDescriptor("bronze", "report.pdf", 1024)
	inst := models.NewInstance(d, models.RouteDocument)
	require.NoError(t, s.Create(ctx, inst))

	// Duplicate registration loses.
	assert.ErrorIs(t, s.Create(ctx, models.NewInstance(d, models.RouteDocument)), ErrAlreadyExists)

	loaded, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceRunning, loaded.Status)
	require.Len(t, loaded.Stages, 3)

	loaded.Status = models.InstanceCompleted
	loaded.Stages[0].Status = models.StageSucceeded
	require.NoError(t, s.Update(ctx, loaded))

	reloaded, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceCompleted, reloaded.Status)
	assert.Equal(t, models.StageSucceeded, reloaded.Stages[0].Status)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "no-such-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := models.NewInputDescriptor("bronze", "call.mp3", 10)
	inst := models.NewInstance(d, models.RouteAudio)
	require.NoError(t, s.Create(ctx, inst))

	// Mutating a loaded copy must not leak into the store.
	loaded, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	loaded.Stages[0].Status = models.StageFailed

	fresh, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StagePending, fresh.Stages[0].Status)

	// Mutating the original after Create must not either.
	inst.Status = models.InstanceFailed
	fresh, err = s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceRunning, fresh.Status)
}

func TestMemoryStoreListOrdersByUpdatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	older := models.NewInstance(models.NewInputDescriptor("bronze", "a.pdf", 1), models.RouteDocument)
	newer := models.NewInstance(models.NewInputDescriptor("bronze", "b.pdf", 1), models.RouteDocument)
	newer.UpdatedAt = newer.UpdatedAt.Add(1)
	require.NoError(t, s.Create(ctx, older))
	require.NoError(t, s.Create(ctx, newer))

	out, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, newer.Key, out[0].Key)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
