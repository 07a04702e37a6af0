package models

// ModelType is the symbolic label a handler registers under and callers
// dispatch on. The router picks the concrete handler per type.
type ModelType string

const (
	ModelTextSmall           ModelType = "TEXT_SMALL"
	ModelTextLarge           ModelType = "TEXT_LARGE"
	ModelTextEmbedding       ModelType = "TEXT_EMBEDDING"
	ModelTextReasoningSmall  ModelType = "TEXT_REASONING_SMALL"
	ModelTextReasoningLarge  ModelType = "TEXT_REASONING_LARGE"
	ModelObjectSmall         ModelType = "OBJECT_SMALL"
	ModelObjectLarge         ModelType = "OBJECT_LARGE"
	ModelTranscription       ModelType = "TRANSCRIPTION"
	ModelImage               ModelType = "IMAGE"
	ModelImageDescription    ModelType = "IMAGE_DESCRIPTION"
)

// TextParams is the common parameter shape for TEXT_* model calls. Handlers
// accept any params value; this struct is a convenience for Go callers.
type TextParams struct {
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}
