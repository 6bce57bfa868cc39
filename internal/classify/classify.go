package classify

import (
	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

var documentExtensions = map[string]struct{}{
	"pdf": {}, "docx": {}, "doc": {}, "xlsx": {}, "pptx": {},
	"jpg": {}, "jpeg": {}, "png": {}, "tiff": {}, "bmp": {},
}

var audioExtensions = map[string]struct{}{
	"wav": {}, "mp3": {}, "opus": {}, "ogg": {}, "flac": {},
	"wma": {}, "aac": {}, "webm": {},
}

// multimodalExtensions are the document types Gemini can consume page by
// page. Office formats stay on the Document route even in multimodal mode
// because they cannot be rendered per page without conversion.
var multimodalExtensions = map[string]struct{}{
	"pdf": {}, "jpg": {}, "jpeg": {}, "png": {}, "tiff": {}, "bmp": {},
}

// Classifier maps an input descriptor to a processing route. Classification
// is a pure function of the descriptor and the classifier's configuration;
// every input maps to exactly one route.
type Classifier struct {
	// Multimodal routes page-renderable documents through the vision model
	// instead of the OCR-then-infer path.
	Multimodal bool
}

// Classify returns the route for the descriptor. Unknown extensions return
// RouteUnsupported; the extension match is case-insensitive because
// NewInputDescriptor lowercases the extension.
func (c Classifier) Classify(d models.InputDescriptor) models.ProcessingRoute {
	if _, ok := audioExtensions[d.Extension]; ok {
		return models.RouteAudio
	}
	if _, ok := documentExtensions[d.Extension]; ok {
		if c.Multimodal {
			if _, ok := multimodalExtensions[d.Extension]; ok {
				return models.RouteMultimodal
			}
		}
		return models.RouteDocument
	}
	return models.RouteUnsupported
}
