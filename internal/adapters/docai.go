package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	documentai "google.golang.org/api/documentai/v1"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// DocAIExtractor is the extract-text adapter backed by Document AI. The
// processor performs OCR and layout parsing; only the plain text is carried
// forward.
type DocAIExtractor struct {
	service       *documentai.Service
	storageClient *storage.Client
	processorName string
}

// NewDocAIExtractor creates the extractor. processorName is the full
// processor resource name (projects/../locations/../processors/..).
func NewDocAIExtractor(ctx context.Context, storageClient *storage.Client, processorName string) (*DocAIExtractor, error) {
	if processorName == "" {
		return nil, fmt.Errorf("document AI processor name must be provided")
	}
	service, err := documentai.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI service: %w", err)
	}
	return &DocAIExtractor{
		service:       service,
		storageClient: storageClient,
		processorName: processorName,
	}, nil
}

func (e *DocAIExtractor) ExtractText(ctx context.Context, d models.InputDescriptor) (*models.Artifact, error) {
	const op = "extract-text"

	data, err := readObject(ctx, e.storageClient, d.Container, d.Name)
	if err != nil {
		return nil, classifyRemote(op, err)
	}

	req := &documentai.GoogleCloudDocumentaiV1ProcessRequest{
		RawDocument: &documentai.GoogleCloudDocumentaiV1RawDocument{
			Content:  base64.StdEncoding.EncodeToString(data),
			MimeType: mimeForExtension(d.Extension),
		},
	}

	resp, err := e.service.Projects.Locations.Processors.Process(e.processorName, req).Context(ctx).Do()
	if err != nil {
		return nil, classifyRemote(op, fmt.Errorf("document processing failed for %s: %w", d.Name, err))
	}
	if resp.Document == nil || resp.Document.Text == "" {
		return nil, Permanent(op, fmt.Errorf("no text content extracted from %s", d.Name))
	}

	slog.Info("Text extracted.", "input", d.Name, "chars", len(resp.Document.Text))
	return &models.Artifact{Kind: "text/plain", Text: resp.Document.Text}, nil
}

var _ TextExtractor = (*DocAIExtractor)(nil)
