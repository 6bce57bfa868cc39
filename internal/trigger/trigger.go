// Package trigger is the pipeline's front door: the storage notification
// handler plus the small HTTP surface for manual starts, status queries and
// operator re-runs. Every entry path funnels into the orchestrator's
// StartOrResume, so all of them are idempotent per input object.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/orchestrator"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
)

// GCSEvent is the storage object notification payload delivered inside the
// CloudEvent envelope. Size arrives as a decimal string.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	Size   string `json:"size"`
}

// FrontDoor exposes the orchestrator over the event and HTTP surfaces.
type FrontDoor struct {
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
	baseURL string
}

// New creates a front door. baseURL, when non-empty, is used to build the
// status URL returned from start requests.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger, baseURL string) *FrontDoor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrontDoor{orch: orch, logger: logger, baseURL: strings.TrimRight(baseURL, "/")}
}

// HandleGCSEvent processes one storage object-finalized notification.
//
// Delivery is at-least-once, so the return value decides redelivery: a nil
// return acknowledges the event, a non-nil return asks the platform to retry
// it. Stage failures are already recorded on the instance and must NOT be
// returned as errors, otherwise redelivery would bypass the Failed-is-terminal
// rule; only infrastructure faults (store unreachable, malformed event)
// propagate.
func (f *FrontDoor) HandleGCSEvent(ctx context.Context, e cloudevents.Event) error {
	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		f.logger.Error("Failed to unmarshal event data.", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	if gcsEvent.Bucket == "" || gcsEvent.Name == "" {
		f.logger.Error("Event is missing bucket or object name.", "data", string(e.Data()))
		return fmt.Errorf("incomplete storage event: bucket=%q name=%q", gcsEvent.Bucket, gcsEvent.Name)
	}
	// Size is informational; a missing or malformed value degrades to 0
	// rather than rejecting an otherwise well-formed event.
	size, _ := strconv.ParseInt(gcsEvent.Size, 10, 64)

	d := models.NewInputDescriptor(gcsEvent.Bucket, gcsEvent.Name, size)
	inst, err := f.orch.StartOrResume(ctx, d)
	if err != nil {
		f.logger.Error("Orchestration could not run for event.", "input", gcsEvent.Name, "error", err)
		return err
	}

	f.logger.Info("Event handled.", "input", gcsEvent.Name, "instanceKey", inst.Key, "status", inst.Status)
	return nil
}

// HandleStart accepts a manual start: POST with a StartRequest body. The
// response carries the instance's current state and its status URL, so a
// caller that re-posts a finished input gets the existing result back.
func (f *FrontDoor) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.logger.Error("Could not decode start request.", "error", err)
		http.Error(w, "could not parse JSON body", http.StatusBadRequest)
		return
	}
	if req.Container == "" || req.Name == "" {
		http.Error(w, "container and name are required", http.StatusBadRequest)
		return
	}

	d := models.NewInputDescriptor(req.Container, req.Name, req.Size)
	inst, err := f.orch.StartOrResume(r.Context(), d)
	if err != nil {
		f.logger.Error("Start request failed.", "input", req.Name, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	f.writeJSON(w, http.StatusAccepted, models.StatusResponse(inst, f.statusURL(inst.Key)))
}

// HandleStatus serves GET requests for an instance's observable state. The
// key is taken from the "key" query parameter or the trailing path segment.
func (f *FrontDoor) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		if i := strings.LastIndex(r.URL.Path, "/"); i >= 0 {
			key = r.URL.Path[i+1:]
		}
	}
	if key == "" {
		http.Error(w, "instance key is required", http.StatusBadRequest)
		return
	}

	inst, err := f.orch.Status(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no such instance", http.StatusNotFound)
		return
	}
	if err != nil {
		f.logger.Error("Status lookup failed.", "instanceKey", key, "error", err)
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}

	f.writeJSON(w, http.StatusOK, models.StatusResponse(inst, f.statusURL(key)))
}

// HandleRerun clears a failed instance and resumes it: POST with ?key=.
// Instances that are not Failed are reported as a conflict, never re-run.
func (f *FrontDoor) HandleRerun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "instance key is required", http.StatusBadRequest)
		return
	}

	inst, err := f.orch.Rerun(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "no such instance", http.StatusNotFound)
		return
	case errors.Is(err, orchestrator.ErrNotFailed):
		http.Error(w, "instance is not in a failed state", http.StatusConflict)
		return
	case err != nil:
		f.logger.Error("Re-run failed.", "instanceKey", key, "error", err)
		http.Error(w, "re-run failed", http.StatusInternalServerError)
		return
	}

	f.writeJSON(w, http.StatusOK, models.StatusResponse(inst, f.statusURL(key)))
}

func (f *FrontDoor) statusURL(key string) string {
	if f.baseURL == "" {
		return ""
	}
	return f.baseURL + "/status?key=" + key
}

func (f *FrontDoor) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		f.logger.Error("Failed to write response.", "error", err)
	}
}
