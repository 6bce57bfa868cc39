package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// --- Insight Model Prompts ---
const InsightSystemPrompt = "You are a document analyst. Your task is to read the content of a file and extract structured insights from it. You must output your response as a single valid JSON object."
const InsightUserPrompt = `Analyze the provided content and extract insights.

Follow these rules precisely:
1.  Produce a JSON object with exactly these keys:
    - "summary": a concise summary of the content, at most five sentences.
    - "topics": an array of the main topics discussed.
    - "entities": an array of named people, organizations, and places.
    - "actionItems": an array of follow-up actions stated or implied by the content. Use an empty array when there are none.
2.  Ground every value strictly in the provided content. Do not invent information.
3.  The final output MUST be a single valid JSON object. Do not include any text before or after it.`

const VisionPagePrompt = `You will be provided with one page of a document. Extract its insights following the rules above, treating the page as the complete content. Include a "pageText" key containing the page's text parsed into markdown: preserve lists and tables, and replace images with detailed descriptions.`

// refusalPhrases flag model responses that declined the task. A refusal must
// fail the stage rather than be written out as an insight.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient holds the pre-configured generative models for the pipeline.
type VertexClient struct {
	TextModel   *genai.GenerativeModel
	VisionModel *genai.GenerativeModel
	baseClient  *genai.Client
}

// NewVertexClient creates a client holding the text-infer and vision-infer
// models, both forced to JSON output.
func NewVertexClient(ctx context.Context, projectID, region, textModelName, visionModelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	textModel := baseClient.GenerativeModel(textModelName)
	textModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(InsightSystemPrompt)},
	}
	textModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	visionModel := baseClient.GenerativeModel(visionModelName)
	visionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(InsightSystemPrompt)},
	}
	visionModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		TextModel:   textModel,
		VisionModel: visionModel,
		baseClient:  baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// VertexTextInferrer is the text-infer adapter backed by a Vertex AI model.
type VertexTextInferrer struct {
	client *VertexClient
}

func NewVertexTextInferrer(client *VertexClient) *VertexTextInferrer {
	return &VertexTextInferrer{client: client}
}

func (v *VertexTextInferrer) Infer(ctx context.Context, text string) (*models.Artifact, error) {
	const op = "text-infer"
	if strings.TrimSpace(text) == "" {
		return nil, Permanent(op, fmt.Errorf("no text content to analyze"))
	}

	resp, err := v.client.TextModel.GenerateContent(ctx,
		genai.Text(InsightUserPrompt),
		genai.Text(text),
	)
	if err != nil {
		return nil, classifyRemote(op, fmt.Errorf("failed to generate insights: %w", err))
	}

	content, err := responseText(op, resp)
	if err != nil {
		return nil, err
	}
	return &models.Artifact{Kind: "application/json", Text: content}, nil
}

var _ TextInferrer = (*VertexTextInferrer)(nil)

// VertexVisionInferrer is the vision-infer adapter. PDFs are staged locally
// and split into single pages with pdfcpu; images are a single page.
type VertexVisionInferrer struct {
	client        *VertexClient
	storageClient *storage.Client
}

func NewVertexVisionInferrer(client *VertexClient, storageClient *storage.Client) *VertexVisionInferrer {
	return &VertexVisionInferrer{client: client, storageClient: storageClient}
}

func (v *VertexVisionInferrer) SplitPages(ctx context.Context, d models.InputDescriptor) ([]PageRef, func(), error) {
	const op = "vision-infer"

	tempDir, err := os.MkdirTemp("", "vision-pages-*")
	if err != nil {
		return nil, nil, Permanent(op, fmt.Errorf("failed to create temp dir: %w", err))
	}
	cleanup := func() { os.RemoveAll(tempDir) }

	sourcePath := filepath.Join(tempDir, "source."+d.Extension)
	if err := streamObject(ctx, v.storageClient, d.Container, d.Name, sourcePath); err != nil {
		cleanup()
		return nil, nil, classifyRemote(op, err)
	}

	mime := mimeForExtension(d.Extension)
	if d.Extension != "pdf" {
		// Images are a single renderable page.
		return []PageRef{{Number: 1, Path: sourcePath, MIMEType: mime}}, cleanup, nil
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		cleanup()
		return nil, nil, Permanent(op, fmt.Errorf("failed to validate/optimize PDF: %w", err))
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		cleanup()
		return nil, nil, Permanent(op, fmt.Errorf("failed to get page count: %w", err))
	}
	if err := api.SplitFile(optimizedPath, tempDir, 1, nil); err != nil {
		cleanup()
		return nil, nil, Permanent(op, fmt.Errorf("failed to split PDF: %w", err))
	}

	splitBase := strings.TrimSuffix(optimizedPath, filepath.Ext(optimizedPath))
	pages := make([]PageRef, pageCount)
	for i := 1; i <= pageCount; i++ {
		pages[i-1] = PageRef{
			Number:   i,
			Path:     fmt.Sprintf("%s_%d.pdf", splitBase, i),
			MIMEType: mime,
		}
	}
	sort.Slice(pages, func(a, b int) bool { return pages[a].Number < pages[b].Number })
	slog.Info("Input staged and split for vision inference.", "input", d.Name, "pageCount", pageCount)
	return pages, cleanup, nil
}

func (v *VertexVisionInferrer) InferPage(ctx context.Context, page PageRef) (string, error) {
	const op = "vision-infer"

	data, err := os.ReadFile(page.Path)
	if err != nil {
		return "", Permanent(op, fmt.Errorf("failed to read staged page %d: %w", page.Number, err))
	}

	resp, err := v.client.VisionModel.GenerateContent(ctx,
		genai.Blob{MIMEType: page.MIMEType, Data: data},
		genai.Text(InsightUserPrompt),
		genai.Text(VisionPagePrompt),
	)
	if err != nil {
		return "", classifyRemote(op, fmt.Errorf("page %d: failed to generate content: %w", page.Number, err))
	}

	content, err := responseText(op, resp)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", page.Number, err)
	}
	return content, nil
}

var _ VisionInferrer = (*VertexVisionInferrer)(nil)

// responseText extracts and validates the text content of a model response.
func responseText(op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", Transient(op, fmt.Errorf("model returned an empty response"))
	}

	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			builder.WriteString(string(txt))
		}
	}

	content := strings.TrimSpace(builder.String())
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", Permanent(op, fmt.Errorf("model response indicates refusal"))
		}
	}
	if content == "" {
		return "", Transient(op, fmt.Errorf("model returned no text parts"))
	}
	return content, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
