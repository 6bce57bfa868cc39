package badgerdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := models.NewInputDescriptor("bronze", "report.pdf", 1024)
	inst := models.NewInstance(d, models.RouteDocument)
	inst.Stages[0].Status = models.StageSucceeded
	inst.Stages[0].Attempts = 2
	inst.Stages[0].Output = &models.Artifact{Kind: "text/plain", Text: "extracted"}
	require.NoError(t, s.Create(ctx, inst))

	loaded, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouteDocument, loaded.Route)
	assert.Equal(t, d.Name, loaded.Descriptor.Name)
	require.Len(t, loaded.Stages, 3)
	assert.Equal(t, models.StageSucceeded, loaded.Stages[0].Status)
	assert.Equal(t, 2, loaded.Stages[0].Attempts)
	require.NotNil(t, loaded.Stages[0].Output)
	assert.Equal(t, "extracted", loaded.Stages[0].Output.Text)
}

func TestBadgerStoreCreateConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := models.NewInputDescriptor("bronze", "call.mp3", 10)
	require.NoError(t, s.Create(ctx, models.NewInstance(d, models.RouteAudio)))
	assert.ErrorIs(t, s.Create(ctx, models.NewInstance(d, models.RouteAudio)), store.ErrAlreadyExists)
}

func TestBadgerStoreGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBadgerStoreUpdateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	d := models.NewInputDescriptor("bronze", "scan.png", 99)
	inst := models.NewInstance(d, models.RouteMultimodal)
	require.NoError(t, s.Create(ctx, inst))
	inst.Status = models.InstanceFailed
	inst.ErrorDetails = "stage vision-infer failed"
	require.NoError(t, s.Update(ctx, inst))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceFailed, loaded.Status)
	assert.Equal(t, "stage vision-infer failed", loaded.ErrorDetails)
}

func TestBadgerStoreList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		require.NoError(t, s.Create(ctx, models.NewInstance(models.NewInputDescriptor("bronze", name, 1), models.RouteDocument)))
	}
	out, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
