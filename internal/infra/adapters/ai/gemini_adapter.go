package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"invoice-extraction-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ExtractionAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter implements the extraction port with the official SDK. The
// SDK does not stream here; the full document is forwarded to onText as one
// chunk so subscribers still see output before the job completes.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) Extract(ctx context.Context, req adapter.ExtractionRequest, onText adapter.StreamHandler) ([]byte, adapter.Usage, error) {
	prompt := req.Prompt
	if req.SchemaHint != "" {
		prompt += "\nRespond with a single JSON object matching this schema:\n" + req.SchemaHint
	}

	chat, err := g.client.Chats.Create(
		ctx,
		modelOrDefault(req.Model, g.defaultModel),
		&genai.GenerateContentConfig{
			MaxOutputTokens:  int32(g.maxOut),
			ResponseMIMEType: "application/json",
		},
		nil,
	)
	if err != nil {
		return nil, adapter.Usage{}, err
	}

	resp, err := chat.SendMessage(ctx,
		genai.Part{Text: prompt},
		genai.Part{InlineData: &genai.Blob{MIMEType: req.MIMEType, Data: req.Content}},
	)
	if err != nil {
		return nil, adapter.Usage{}, err
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		if t := resp.Candidates[0].Content.Parts[0].Text; t != "" {
			text = t
		}
	}
	u := adapter.Usage{}
	if resp != nil && resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	doc := extractJSONObject(text)
	if doc == "" {
		return nil, u, errors.New("gemini: no JSON object in model output")
	}
	if onText != nil {
		onText(doc)
	}
	return []byte(doc), u, nil
}

func (g *GeminiAdapter) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	}}
	resp, err := g.client.Models.CountTokens(ctx, modelOrDefault(model, g.defaultModel), contents, nil)
	if err != nil {
		return 0, err
	}
	return int(resp.TotalTokens), nil
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
