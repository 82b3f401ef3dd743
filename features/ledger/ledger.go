package ledger

import (
	"context"
	"time"

	"walter/apps/backend/internal/pipeline"
)

// Record is one ledger entry, usually produced by the receipt pipeline
// from a parsed receipt. One receipt maps to at most one record.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	Merchant  string    `json:"merchant"`
	Date      string    `json:"date"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Category  string    `json:"category"`
	Items     []Item    `json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Item struct {
	ID          string  `json:"id"`
	RecordID    string  `json:"-"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Amount      float64 `json:"amount"`
}

type Repository interface {
	ApplyParsed(ctx context.Context, receiptID, userID string, parsed *pipeline.ParsedReceipt) error
	List(ctx context.Context, userID string) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	TotalByCategory(ctx context.Context, userID string) (map[string]float64, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, userID string) ([]Record, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) TotalByCategory(ctx context.Context, userID string) (map[string]float64, error) {
	return s.repo.TotalByCategory(ctx, userID)
}
