package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"walter/apps/backend/internal/pipeline"
	"walter/apps/backend/internal/settings"
)

// DynamicParser resolves the API key and model from settings on every
// call, so operators can rotate the key or switch models without a
// restart. The underlying client is rebuilt only when the key changes.
type DynamicParser struct {
	settingsSvc *settings.Service
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewDynamicParser(svc *settings.Service, opts ...option.ClientOption) *DynamicParser {
	return &DynamicParser{
		settingsSvc: svc,
		clientOpts:  opts,
	}
}

func (p *DynamicParser) Parse(ctx context.Context, text string) (*pipeline.ParsedReceipt, error) {
	s, err := p.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	client, err := p.getClient(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	model := s.ParseModel
	if model == "" {
		model = DefaultModel
	}

	parser := &Parser{client: client, model: model}
	return parser.Parse(ctx, text)
}

func (p *DynamicParser) getClient(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.RLock()
	if p.client != nil && p.currentKey == key {
		defer p.mu.RUnlock()
		return p.client, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check
	if p.client != nil && p.currentKey == key {
		return p.client, nil
	}

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(p.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	p.client = client
	p.currentKey = key
	return client, nil
}
