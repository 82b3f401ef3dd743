package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"walter/apps/backend/internal/pipeline"
)

const DefaultModel = "gemini-2.0-flash"

// ErrUnparseable is returned when the model's output cannot be decoded
// into the receipt schema. Retrying with the same text will not help.
var ErrUnparseable = errors.New("gemini: response does not match receipt schema")

type Parser struct {
	client *genai.Client
	model  string
}

func NewParser(ctx context.Context, apiKey, model string) (*Parser, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}
	return &Parser{client: client, model: model}, nil
}

// receiptSchema constrains the model to the fixed receipt shape. Amounts
// are numbers, the date is ISO-8601, and the category comes from the
// ledger taxonomy.
func receiptSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"merchant": {Type: genai.TypeString},
			"date":     {Type: genai.TypeString, Description: "ISO-8601 date, YYYY-MM-DD"},
			"amount":   {Type: genai.TypeNumber, Description: "Receipt total"},
			"currency": {Type: genai.TypeString, Description: "3-letter ISO 4217 code"},
			"category": {Type: genai.TypeString, Enum: pipeline.AllowedCategories},
			"items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"description": {Type: genai.TypeString},
						"quantity":    {Type: genai.TypeInteger},
						"amount":      {Type: genai.TypeNumber},
					},
					Required: []string{"description", "amount"},
				},
			},
		},
		Required: []string{"merchant", "date", "amount", "category"},
	}
}

func buildPrompt(text string) string {
	return strings.Join([]string{
		"You are a receipt parser. Extract the structured fields from the OCR text of a purchase receipt.",
		"Use ISO-8601 dates (YYYY-MM-DD). If the year is missing, assume the current year.",
		"The amount is the receipt total after tax and tip.",
		"If uncertain about the category, use 'Other'.",
		"Receipt text:",
		"---",
		text,
	}, "\n")
}

func (p *Parser) Parse(ctx context.Context, text string) (*pipeline.ParsedReceipt, error) {
	model := p.client.GenerativeModel(p.model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = receiptSchema()
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(text)))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	raw, err := firstTextPart(resp)
	if err != nil {
		return nil, err
	}

	var parsed pipeline.ParsedReceipt
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return &parsed, nil
}

func firstTextPart(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", ErrUnparseable)
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", fmt.Errorf("%w: no text part in response", ErrUnparseable)
}

func (p *Parser) Close() error {
	return p.client.Close()
}
