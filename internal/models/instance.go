package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// ProcessingRoute is the classifier-selected stage sequence for an input's
// file type. Adding a route requires touching the orchestrator's exhaustive
// switch, which is intentional.
type ProcessingRoute string

const (
	RouteDocument    ProcessingRoute = "DOCUMENT"
	RouteAudio       ProcessingRoute = "AUDIO"
	RouteMultimodal  ProcessingRoute = "MULTIMODAL"
	RouteUnsupported ProcessingRoute = "UNSUPPORTED"
)

// StageStatus is the lifecycle of a single StageRecord.
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRunning   StageStatus = "RUNNING"
	StageSucceeded StageStatus = "SUCCEEDED"
	StageFailed    StageStatus = "FAILED"
)

// InstanceStatus is the overall status of one orchestration instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "RUNNING"
	InstanceCompleted InstanceStatus = "COMPLETED"
	InstanceFailed    InstanceStatus = "FAILED"
)

// Stage names, in the order the routes execute them.
const (
	StageExtractText = "extract-text"
	StageTranscribe  = "transcribe"
	StageVisionInfer = "vision-infer"
	StageTextInfer   = "text-infer"
	StageWriteOutput = "write-output"
)

// InputDescriptor identifies one input object. It is created on trigger
// receipt and never mutated afterwards.
type InputDescriptor struct {
	ID           string    `firestore:"id" json:"id"`
	Container    string    `firestore:"container" json:"container"`
	Name         string    `firestore:"name" json:"name"`
	Extension    string    `firestore:"extension" json:"extension"`
	Size         int64     `firestore:"size" json:"size"`
	DiscoveredAt time.Time `firestore:"discoveredAt" json:"discoveredAt"`
}

// NewInputDescriptor builds a descriptor for an object in a container.
// The ID is derived from container and object path only, so retried triggers
// for the same object always converge on the same orchestration instance.
func NewInputDescriptor(container, name string, size int64) InputDescriptor {
	sum := sha256.Sum256([]byte(container + "/" + name))
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	return InputDescriptor{
		ID:           hex.EncodeToString(sum[:]),
		Container:    container,
		Name:         name,
		Extension:    ext,
		Size:         size,
		DiscoveredAt: time.Now().UTC(),
	}
}

// URI returns the gs:// address of the input object.
func (d InputDescriptor) URI() string {
	return fmt.Sprintf("gs://%s/%s", d.Container, d.Name)
}

// Artifact is an opaque reference to the output of one stage. Text carries
// intermediate content inline; stages that persist to storage set Location.
type Artifact struct {
	Kind     string `firestore:"kind" json:"kind"`
	Location string `firestore:"location,omitempty" json:"location,omitempty"`
	Text     string `firestore:"text,omitempty" json:"text,omitempty"`
}

// StageRecord tracks one pipeline stage for one instance. The current record
// is overwritten in place on every attempt.
type StageRecord struct {
	Name      string      `firestore:"name" json:"name"`
	Status    StageStatus `firestore:"status" json:"status"`
	Attempts  int         `firestore:"attempts" json:"attempts"`
	LastError string      `firestore:"lastError,omitempty" json:"lastError,omitempty"`
	Output    *Artifact   `firestore:"output,omitempty" json:"output,omitempty"`
}

// OrchestrationInstance is the persisted record for one orchestration run,
// keyed by the descriptor ID. All mutation goes through the orchestrator,
// serialized per key.
type OrchestrationInstance struct {
	Key           string          `firestore:"key" json:"key"`
	Descriptor    InputDescriptor `firestore:"descriptor" json:"descriptor"`
	Route         ProcessingRoute `firestore:"route" json:"route"`
	Status        InstanceStatus  `firestore:"status" json:"status"`
	Stages        []*StageRecord  `firestore:"stages" json:"stages"`
	FinalArtifact *Artifact       `firestore:"finalArtifact,omitempty" json:"finalArtifact,omitempty"`
	ErrorDetails  string          `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	CreatedAt     time.Time       `firestore:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `firestore:"updatedAt" json:"updatedAt"`
}

// StageSequence returns the ordered stage names for a route, or nil for
// Unsupported.
func StageSequence(route ProcessingRoute) []string {
	switch route {
	case RouteDocument:
		return []string{StageExtractText, StageTextInfer, StageWriteOutput}
	case RouteAudio:
		return []string{StageTranscribe, StageTextInfer, StageWriteOutput}
	case RouteMultimodal:
		return []string{StageVisionInfer, StageWriteOutput}
	default:
		return nil
	}
}

// NewInstance creates a fresh Running instance with pending stage records for
// the given route.
func NewInstance(d InputDescriptor, route ProcessingRoute) *OrchestrationInstance {
	now := time.Now().UTC()
	seq := StageSequence(route)
	stages := make([]*StageRecord, len(seq))
	for i, name := range seq {
		stages[i] = &StageRecord{Name: name, Status: StagePending}
	}
	return &OrchestrationInstance{
		Key:        d.ID,
		Descriptor: d,
		Route:      route,
		Status:     InstanceRunning,
		Stages:     stages,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ArtifactBefore returns the output of the last Succeeded stage preceding
// index i, or nil when i is the first stage.
func (o *OrchestrationInstance) ArtifactBefore(i int) *Artifact {
	for j := i - 1; j >= 0; j-- {
		if o.Stages[j].Status == StageSucceeded && o.Stages[j].Output != nil {
			return o.Stages[j].Output
		}
	}
	return nil
}

// Stage returns the record with the given name, or nil.
func (o *OrchestrationInstance) Stage(name string) *StageRecord {
	for _, rec := range o.Stages {
		if rec.Name == name {
			return rec
		}
	}
	return nil
}
