package adapter

import "context"

// ExtractionRequest carries the document content and the schema the model
// output must satisfy.
type ExtractionRequest struct {
	Model      string
	Filename   string
	MIMEType   string
	Content    []byte
	SchemaHint string // JSON Schema the structured output must match
	Prompt     string
}

// Usage for a single extraction call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamHandler receives incremental output text as the provider streams it.
// Handlers must not block; forwarding to subscribers is best-effort.
type StreamHandler func(chunk string)

// ExtractionAdapter is the port for LLM document extraction. Extract returns
// the raw JSON document produced by the model; parsing and validation happen
// in the pipeline, not here.
type ExtractionAdapter interface {
	// Extract streams a request to the provider. onText may be nil.
	Extract(ctx context.Context, req ExtractionRequest, onText StreamHandler) ([]byte, Usage, error)

	// CountTokens returns a best-effort prompt token estimate.
	CountTokens(ctx context.Context, model, prompt string) (int, error)
}
