package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"google.golang.org/api/option"

	"walter/apps/backend/internal/adapter/gemini"
	"walter/apps/backend/internal/settings"
)

// MockSettingsRepo
type MockSettingsRepo struct {
	mock.Mock
}

func (m *MockSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

func geminiStub(t *testing.T, modelJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []map[string]interface{}{{"text": modelJSON}},
					},
				},
			},
		})
	}))
}

func TestDynamicParser_Parse(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	settingsSvc := settings.NewService(mockRepo)

	ts := geminiStub(t, `{"merchant":"Trader Joe's","date":"2026-08-14","amount":42.17,"currency":"USD","category":"Groceries","items":[{"description":"Bananas","quantity":6,"amount":1.74}]}`)
	defer ts.Close()

	parser := gemini.NewDynamicParser(
		settingsSvc,
		option.WithEndpoint(ts.URL),
	)

	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(&settings.Settings{GeminiAPIKey: "test-key"}, nil).Once()

		parsed, err := parser.Parse(ctx, "TRADER JOE'S\nBANANAS x6 1.74\nTOTAL 42.17")
		assert.NoError(t, err)
		if assert.NotNil(t, parsed) {
			assert.Equal(t, "Trader Joe's", parsed.Merchant)
			assert.Equal(t, 42.17, parsed.Amount)
			assert.Equal(t, "Groceries", parsed.Category)
			assert.Len(t, parsed.Items, 1)
		}
		mockRepo.AssertExpectations(t)
	})
}

func TestDynamicParser_Parse_SchemaViolation(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	settingsSvc := settings.NewService(mockRepo)

	// Missing merchant, so schema validation must reject it.
	ts := geminiStub(t, `{"date":"2026-08-14","amount":10,"category":"Other"}`)
	defer ts.Close()

	parser := gemini.NewDynamicParser(
		settingsSvc,
		option.WithEndpoint(ts.URL),
	)

	ctx := context.Background()
	mockRepo.On("Get", ctx).Return(&settings.Settings{GeminiAPIKey: "test-key"}, nil).Once()

	_, err := parser.Parse(ctx, "garbled text")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, gemini.ErrUnparseable))
}

func TestDynamicParser_Parse_NotJSON(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	settingsSvc := settings.NewService(mockRepo)

	ts := geminiStub(t, `sorry, I cannot parse this receipt`)
	defer ts.Close()

	parser := gemini.NewDynamicParser(
		settingsSvc,
		option.WithEndpoint(ts.URL),
	)

	ctx := context.Background()
	mockRepo.On("Get", ctx).Return(&settings.Settings{GeminiAPIKey: "test-key"}, nil).Once()

	_, err := parser.Parse(ctx, "text")
	assert.True(t, errors.Is(err, gemini.ErrUnparseable))
}
