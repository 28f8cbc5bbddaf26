package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"invoice-extraction-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ExtractionAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.ExtractionAdapter using the Chat
// Completions API with SSE streaming. The invoice image travels as a data
// URL content part; the model is constrained to JSON output and the schema
// hint is embedded in the prompt.
type OpenAIAdapter struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	client *http.Client
}

func NewOpenAIAdapter(apiKey, model, baseURL string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{
		apiKey: apiKey,
		base:   baseURL,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type oaContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type oaMessage struct {
	Role    string          `json:"role"`
	Content []oaContentPart `json:"content"`
}

func (o *OpenAIAdapter) Extract(ctx context.Context, req adapter.ExtractionRequest, onText adapter.StreamHandler) ([]byte, adapter.Usage, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	prompt := req.Prompt
	if req.SchemaHint != "" {
		prompt += "\nRespond with a single JSON object matching this schema:\n" + req.SchemaHint
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", req.MIMEType, base64.StdEncoding.EncodeToString(req.Content))
	imgPart := oaContentPart{Type: "image_url"}
	imgPart.ImageURL = &struct {
		URL string `json:"url"`
	}{URL: dataURL}

	reqBody := struct {
		Model          string      `json:"model"`
		Messages       []oaMessage `json:"messages"`
		Stream         bool        `json:"stream"`
		StreamOptions  any         `json:"stream_options,omitempty"`
		ResponseFormat any         `json:"response_format,omitempty"`
	}{
		Model: model,
		Messages: []oaMessage{{
			Role: "user",
			Content: []oaContentPart{
				{Type: "text", Text: prompt},
				imgPart,
			},
		}},
		Stream:         true,
		StreamOptions:  map[string]bool{"include_usage": true},
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	b, _ := json.Marshal(reqBody)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, adapter.Usage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, adapter.Usage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, adapter.Usage{}, fmt.Errorf("openai http %d", resp.StatusCode)
	}

	return readStream(resp.Body, onText)
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// readStream consumes the SSE body, forwarding text deltas and accumulating
// the full document.
func readStream(body interface{ Read([]byte) (int, error) }, onText adapter.StreamHandler) ([]byte, adapter.Usage, error) {
	var (
		full  strings.Builder
		usage adapter.Usage
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // skip malformed keepalive frames
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			full.WriteString(c.Delta.Content)
			if onText != nil {
				onText(c.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, usage, err
	}
	doc := extractJSONObject(full.String())
	if doc == "" {
		return nil, usage, errors.New("no JSON object in model output")
	}
	return []byte(doc), usage, nil
}

// extractJSONObject trims any prose the model wrapped around the object.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func (o *OpenAIAdapter) CountTokens(_ context.Context, model, prompt string) (int, error) {
	if model == "" {
		model = o.model
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	return len(enc.Encode(prompt, nil, nil)), nil
}
