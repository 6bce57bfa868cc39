package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	speech "google.golang.org/api/speech/v1"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

const defaultPollInterval = 10 * time.Second

// SpeechTranscriber is the transcribe adapter backed by the Speech-to-Text
// long-running recognize API. It submits a job against the input's storage
// URI and polls the operation until it completes.
type SpeechTranscriber struct {
	service      *speech.Service
	languageCode string
	pollInterval time.Duration
}

// NewSpeechTranscriber creates the transcriber.
func NewSpeechTranscriber(ctx context.Context, languageCode string) (*SpeechTranscriber, error) {
	if languageCode == "" {
		languageCode = "en-US"
	}
	service, err := speech.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Speech service: %w", err)
	}
	return &SpeechTranscriber{
		service:      service,
		languageCode: languageCode,
		pollInterval: defaultPollInterval,
	}, nil
}

func (t *SpeechTranscriber) Transcribe(ctx context.Context, d models.InputDescriptor) (*models.Artifact, error) {
	const op = "transcribe"

	req := &speech.LongRunningRecognizeRequest{
		Audio: &speech.RecognitionAudio{Uri: d.URI()},
		Config: &speech.RecognitionConfig{
			LanguageCode:               t.languageCode,
			EnableAutomaticPunctuation: true,
		},
	}

	operation, err := t.service.Speech.Longrunningrecognize(req).Context(ctx).Do()
	if err != nil {
		return nil, classifyRemote(op, fmt.Errorf("failed to submit transcription for %s: %w", d.Name, err))
	}
	slog.Info("Transcription submitted.", "input", d.Name, "operation", operation.Name)

	// Poll until the remote job finishes. The per-attempt timeout on the
	// surrounding stage bounds how long this loop may run.
	opName := operation.Name
	for !operation.Done {
		select {
		case <-time.After(t.pollInterval):
		case <-ctx.Done():
			return nil, Transient(op, ctx.Err())
		}
		// A failed poll returns a nil operation; keep the last good one.
		updated, err := t.service.Operations.Get(opName).Context(ctx).Do()
		if err != nil {
			return nil, classifyRemote(op, fmt.Errorf("failed to poll transcription %s: %w", opName, err))
		}
		operation = updated
	}

	if operation.Error != nil {
		err := fmt.Errorf("transcription failed with code %d: %s", operation.Error.Code, operation.Error.Message)
		if isTransientRPCCode(operation.Error.Code) {
			return nil, Transient(op, err)
		}
		return nil, Permanent(op, err)
	}

	var result speech.LongRunningRecognizeResponse
	if err := json.Unmarshal(operation.Response, &result); err != nil {
		return nil, Permanent(op, fmt.Errorf("failed to decode transcription response: %w", err))
	}

	var builder strings.Builder
	for _, r := range result.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		builder.WriteString(r.Alternatives[0].Transcript)
		builder.WriteString(" ")
	}
	transcript := strings.TrimSpace(builder.String())
	if transcript == "" {
		return nil, Permanent(op, fmt.Errorf("no speech recognized in %s", d.Name))
	}

	slog.Info("Transcription complete.", "input", d.Name, "chars", len(transcript))
	return &models.Artifact{Kind: "text/plain", Text: transcript}, nil
}

// isTransientRPCCode reports whether a google.rpc.Code indicates a condition
// worth retrying (deadline exceeded, aborted, internal, unavailable,
// resource exhausted).
func isTransientRPCCode(code int64) bool {
	switch code {
	case 4, 8, 10, 13, 14:
		return true
	default:
		return false
	}
}

var _ Transcriber = (*SpeechTranscriber)(nil)
