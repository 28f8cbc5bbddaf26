package ai

import (
	"context"
	"strings"

	"invoice-extraction-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ExtractionAdapter = (*MultiAdapter)(nil)

// MultiAdapter routes extraction calls to a provider by model name. Each
// provider adapter is responsible for its own default model.
type MultiAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.ExtractionAdapter
	modelToProvider map[string]string // model -> provider
}

func NewMultiAdapter(
	defaultProvider string,
	byProvider map[string]adapter.ExtractionAdapter,
	modelToProvider map[string]string,
) *MultiAdapter {
	return &MultiAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

// Provider exposes the routing decision so callers can label metrics.
func (m *MultiAdapter) Provider(model string) string {
	return m.resolveProvider(model)
}

func (m *MultiAdapter) pick(model string) adapter.ExtractionAdapter {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return a
	}
	// last resort: first available
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAdapter) Extract(ctx context.Context, req adapter.ExtractionRequest, onText adapter.StreamHandler) ([]byte, adapter.Usage, error) {
	a := m.pick(req.Model)
	if a == nil {
		return nil, adapter.Usage{}, errNoProvider
	}
	return a.Extract(ctx, req, onText)
}

func (m *MultiAdapter) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	a := m.pick(model)
	if a == nil {
		return 0, errNoProvider
	}
	return a.CountTokens(ctx, model, prompt)
}
