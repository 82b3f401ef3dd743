package worker_test

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/pipeline"
	"walter/apps/backend/internal/worker"
)

// Mocks

type MockJobStore struct{ mock.Mock }

func (m *MockJobStore) Claim(ctx context.Context, owner string, lease time.Duration) (*job.Job, error) {
	args := m.Called(ctx, owner, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *MockJobStore) Advance(ctx context.Context, id, owner string, next pipeline.Stage, payload *job.StagePayload) error {
	args := m.Called(ctx, id, owner, next, payload)
	return args.Error(0)
}

func (m *MockJobStore) Requeue(ctx context.Context, id, owner, lastError string) error {
	args := m.Called(ctx, id, owner, lastError)
	return args.Error(0)
}

func (m *MockJobStore) Fail(ctx context.Context, id, owner, lastError string) error {
	args := m.Called(ctx, id, owner, lastError)
	return args.Error(0)
}

type MockObjectStore struct{ mock.Mock }

func (m *MockObjectStore) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return objstore.ObjectInfo{}, args.Error(1)
	}
	return args.Get(0).(objstore.ObjectInfo), args.Error(1)
}

func (m *MockObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type MockExtractor struct{ mock.Mock }

func (m *MockExtractor) ExtractText(ctx context.Context, body io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, body, contentType)
	return args.String(0), args.Error(1)
}

type MockParser struct{ mock.Mock }

func (m *MockParser) Parse(ctx context.Context, text string) (*pipeline.ParsedReceipt, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.ParsedReceipt), args.Error(1)
}

type MockLedgerStore struct{ mock.Mock }

func (m *MockLedgerStore) ApplyParsed(ctx context.Context, receiptID, userID string, parsed *pipeline.ParsedReceipt) error {
	args := m.Called(ctx, receiptID, userID, parsed)
	return args.Error(0)
}

type MockReceiptStore struct{ mock.Mock }

func (m *MockReceiptStore) GetDetails(ctx context.Context, id string) (*worker.ReceiptDetails, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worker.ReceiptDetails), args.Error(1)
}

func (m *MockReceiptStore) UpdateStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}
