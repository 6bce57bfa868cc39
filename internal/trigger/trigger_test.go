package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/fileinsightpipeline/internal/adapters"
	"github.com/Lllllllleong/fileinsightpipeline/internal/classify"
	"github.com/Lllllllleong/fileinsightpipeline/internal/executor"
	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/orchestrator"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
)

type stubExtractor struct{ calls atomic.Int32 }

func (s *stubExtractor) ExtractText(ctx context.Context, d models.InputDescriptor) (*models.Artifact, error) {
	s.calls.Add(1)
	return &models.Artifact{Kind: "text/plain", Text: "body"}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, d models.InputDescriptor) (*models.Artifact, error) {
	return &models.Artifact{Kind: "text/plain", Text: "transcript"}, nil
}

type stubVision struct{}

func (stubVision) SplitPages(ctx context.Context, d models.InputDescriptor) ([]adapters.PageRef, func(), error) {
	return []adapters.PageRef{{Number: 1}}, func() {}, nil
}

func (stubVision) InferPage(ctx context.Context, page adapters.PageRef) (string, error) {
	return `{"page":1}`, nil
}

type stubInferrer struct{}

func (stubInferrer) Infer(ctx context.Context, text string) (*models.Artifact, error) {
	return &models.Artifact{Kind: "application/json", Text: `{"summary":"ok"}`}, nil
}

type stubWriter struct{}

func (stubWriter) Write(ctx context.Context, d models.InputDescriptor, a *models.Artifact) (*models.Artifact, error) {
	return &models.Artifact{Kind: "application/json", Location: "gs://gold/" + d.Name + ".json"}, nil
}

func newTestFrontDoor(t *testing.T) (*FrontDoor, *stubExtractor, *store.MemoryStore) {
	t.Helper()
	extractor := &stubExtractor{}
	st := store.NewMemoryStore()
	set := &adapters.Set{
		Extractor:   extractor,
		Transcriber: stubTranscriber{},
		Vision:      stubVision{},
		Inferrer:    stubInferrer{},
		Writer:      stubWriter{},
	}
	exec := executor.New(executor.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}, 4, nil)
	orch := orchestrator.New(st, set, classify.Classifier{}, exec, nil)
	return New(orch, nil, "https://pipeline.example.com"), extractor, st
}

func gcsCloudEvent(t *testing.T, bucket, name, size string) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetType("google.cloud.storage.object.v1.finalized")
	e.SetSource("//storage.googleapis.com/projects/_/buckets/" + bucket)
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, GCSEvent{Bucket: bucket, Name: name, Size: size}))
	return e
}

func TestHandleGCSEventRunsPipeline(t *testing.T) {
	fd, extractor, st := newTestFrontDoor(t)

	err := fd.HandleGCSEvent(context.Background(), gcsCloudEvent(t, "bronze", "report.pdf", "2048"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), extractor.calls.Load())

	d := models.NewInputDescriptor("bronze", "report.pdf", 2048)
	inst, err := st.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceCompleted, inst.Status)
}

func TestHandleGCSEventAcknowledgesStageFailure(t *testing.T) {
	fd, _, st := newTestFrontDoor(t)

	// Unsupported input fails the instance, but the event must still be
	// acknowledged; redelivery cannot make it processable.
	err := fd.HandleGCSEvent(context.Background(), gcsCloudEvent(t, "bronze", "memo.xyz", "64"))
	require.NoError(t, err)

	d := models.NewInputDescriptor("bronze", "memo.xyz", 64)
	inst, err := st.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceFailed, inst.Status)
}

func TestHandleGCSEventRejectsMalformedPayload(t *testing.T) {
	fd, extractor, _ := newTestFrontDoor(t)

	e := cloudevents.NewEvent()
	e.SetID("evt-2")
	e.SetType("google.cloud.storage.object.v1.finalized")
	e.SetSource("//storage.googleapis.com")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, map[string]string{"bucket": "bronze"}))

	assert.Error(t, fd.HandleGCSEvent(context.Background(), e))
	assert.Equal(t, int32(0), extractor.calls.Load())
}

func TestHandleGCSEventToleratesMalformedSize(t *testing.T) {
	fd, extractor, st := newTestFrontDoor(t)

	err := fd.HandleGCSEvent(context.Background(), gcsCloudEvent(t, "bronze", "report.pdf", "not-a-number"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), extractor.calls.Load())

	inst, err := st.Get(context.Background(), models.NewInputDescriptor("bronze", "report.pdf", 0).ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceCompleted, inst.Status)
	assert.Zero(t, inst.Descriptor.Size)
}

func TestHandleGCSEventIsIdempotent(t *testing.T) {
	fd, extractor, _ := newTestFrontDoor(t)
	e := gcsCloudEvent(t, "bronze", "report.pdf", "2048")

	require.NoError(t, fd.HandleGCSEvent(context.Background(), e))
	require.NoError(t, fd.HandleGCSEvent(context.Background(), e))
	assert.Equal(t, int32(1), extractor.calls.Load(), "redelivery of a completed instance does no work")
}

func TestHandleStartReturnsStatusURL(t *testing.T) {
	fd, _, _ := newTestFrontDoor(t)

	body, err := json.Marshal(models.StartRequest{Container: "bronze", Name: "report.pdf", Size: 2048})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	fd.HandleStart(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp models.InstanceStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.InstanceCompleted, resp.Status)
	assert.Equal(t, "https://pipeline.example.com/status?key="+resp.Key, resp.StatusURL)
	require.Len(t, resp.Stages, 3)
}

func TestHandleStartValidatesBody(t *testing.T) {
	fd, _, _ := newTestFrontDoor(t)

	rec := httptest.NewRecorder()
	fd.HandleStart(rec, httptest.NewRequest(http.MethodPost, "/start", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	fd.HandleStart(rec, httptest.NewRequest(http.MethodPost, "/start", bytes.NewReader([]byte(`{"container":"bronze"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	fd.HandleStart(rec, httptest.NewRequest(http.MethodGet, "/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	fd, _, _ := newTestFrontDoor(t)

	require.NoError(t, fd.HandleGCSEvent(context.Background(), gcsCloudEvent(t, "bronze", "call.mp3", "10")))
	d := models.NewInputDescriptor("bronze", "call.mp3", 10)

	rec := httptest.NewRecorder()
	fd.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status?key="+d.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.InstanceStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.RouteAudio, resp.Route)
	assert.Equal(t, models.InstanceCompleted, resp.Status)
	for _, st := range resp.Stages {
		assert.Equal(t, models.StageSucceeded, st.Status)
	}

	rec = httptest.NewRecorder()
	fd.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status?key=absent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	fd.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRerun(t *testing.T) {
	fd, _, _ := newTestFrontDoor(t)

	// A completed instance cannot be re-run.
	require.NoError(t, fd.HandleGCSEvent(context.Background(), gcsCloudEvent(t, "bronze", "report.pdf", "2048")))
	d := models.NewInputDescriptor("bronze", "report.pdf", 2048)

	rec := httptest.NewRecorder()
	fd.HandleRerun(rec, httptest.NewRequest(http.MethodPost, "/rerun?key="+d.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	fd.HandleRerun(rec, httptest.NewRequest(http.MethodPost, "/rerun?key=absent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	fd.HandleRerun(rec, httptest.NewRequest(http.MethodGet, "/rerun?key="+d.ID, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
