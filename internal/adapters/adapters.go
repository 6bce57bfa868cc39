package adapters

import (
	"context"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// The five activity adapters. Each call is safe to retry: adapters either
// read remote state or perform overwrite-safe writes, so a duplicate
// invocation after a crash or a retried trigger cannot corrupt output.
// On error every adapter returns a *Failure so the executor can decide
// whether to retry.

// TextExtractor extracts the text content of a document input (OCR).
type TextExtractor interface {
	ExtractText(ctx context.Context, d models.InputDescriptor) (*models.Artifact, error)
}

// Transcriber turns an audio input into text.
type Transcriber interface {
	Transcribe(ctx context.Context, d models.InputDescriptor) (*models.Artifact, error)
}

// PageRef addresses one renderable page of a multimodal input, staged as a
// local file between splitting and inference.
type PageRef struct {
	Number   int
	Path     string
	MIMEType string
}

// VisionInferrer runs vision-capable inference page by page. SplitPages
// stages the input locally and returns one PageRef per page plus a cleanup
// function; InferPage produces the insight text for a single page.
type VisionInferrer interface {
	SplitPages(ctx context.Context, d models.InputDescriptor) ([]PageRef, func(), error)
	InferPage(ctx context.Context, page PageRef) (string, error)
}

// TextInferrer runs text-only inference over extracted or transcribed text.
type TextInferrer interface {
	Infer(ctx context.Context, text string) (*models.Artifact, error)
}

// OutputWriter persists the composed artifact for an input and returns the
// final artifact reference. The write must be overwrite-safe so duplicate
// completions converge on the same output.
type OutputWriter interface {
	Write(ctx context.Context, d models.InputDescriptor, a *models.Artifact) (*models.Artifact, error)
}

// Set bundles the adapters the orchestrator sequences.
type Set struct {
	Extractor   TextExtractor
	Transcriber Transcriber
	Vision      VisionInferrer
	Inferrer    TextInferrer
	Writer      OutputWriter
}

// mimeForExtension maps the supported input extensions to the MIME type the
// backing services expect.
func mimeForExtension(ext string) string {
	switch ext {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "doc":
		return "application/msword"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		return "application/octet-stream"
	}
}
