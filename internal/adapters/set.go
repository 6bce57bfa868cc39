package adapters

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/fileinsightpipeline/internal/config"
)

// NewGCPSet wires the five production adapters from resolved configuration.
// It returns a close function releasing the shared clients.
func NewGCPSet(ctx context.Context, cfg config.Lookup) (*Set, func() error, error) {
	projectID, ok := cfg.Get("project.id")
	if !ok {
		return nil, nil, fmt.Errorf("project.id must be configured")
	}
	outputBucket, ok := cfg.Get("output.bucket")
	if !ok {
		return nil, nil, fmt.Errorf("output.bucket must be configured")
	}
	processorName, ok := cfg.Get("docai.processor")
	if !ok {
		return nil, nil, fmt.Errorf("docai.processor must be configured")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	vertexClient, err := NewVertexClient(ctx,
		projectID,
		cfg.GetDefault("vertex.region", "us-central1"),
		cfg.GetDefault("vertex.text.model", "gemini-1.5-pro"),
		cfg.GetDefault("vertex.vision.model", "gemini-1.5-pro"),
	)
	if err != nil {
		storageClient.Close()
		return nil, nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	extractor, err := NewDocAIExtractor(ctx, storageClient, processorName)
	if err != nil {
		vertexClient.Close()
		storageClient.Close()
		return nil, nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	transcriber, err := NewSpeechTranscriber(ctx, cfg.GetDefault("speech.language", "en-US"))
	if err != nil {
		vertexClient.Close()
		storageClient.Close()
		return nil, nil, fmt.Errorf("failed to create transcriber: %w", err)
	}

	writer, err := NewBlobWriter(storageClient, outputBucket)
	if err != nil {
		vertexClient.Close()
		storageClient.Close()
		return nil, nil, fmt.Errorf("failed to create output writer: %w", err)
	}

	set := &Set{
		Extractor:   extractor,
		Transcriber: transcriber,
		Vision:      NewVertexVisionInferrer(vertexClient, storageClient),
		Inferrer:    NewVertexTextInferrer(vertexClient),
		Writer:      writer,
	}
	closeFn := func() error {
		verr := vertexClient.Close()
		serr := storageClient.Close()
		if verr != nil {
			return verr
		}
		return serr
	}
	return set, closeFn, nil
}
