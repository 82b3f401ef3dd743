package receipt

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/pipeline"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Create(ctx context.Context, rcpt *Receipt) error {
	args := m.Called(ctx, rcpt)
	if args.Error(0) == nil {
		rcpt.ID = "rcpt-1"
	}
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*Receipt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Receipt), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context, userID string) ([]Receipt, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Receipt), args.Error(1)
}

func (m *MockRepo) UpdateStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockObjects struct{ mock.Mock }

func (m *MockObjects) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockObjects) PresignGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, filename, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockObjects) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return objstore.ObjectInfo{}, args.Error(1)
	}
	return args.Get(0).(objstore.ObjectInfo), args.Error(1)
}

func (m *MockObjects) Remove(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockEnqueuer struct{ mock.Mock }

func (m *MockEnqueuer) Enqueue(ctx context.Context, receiptID, userID string) (*job.Job, error) {
	args := m.Called(ctx, receiptID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
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

func newTestService() (*Service, *MockRepo, *MockObjects, *MockEnqueuer, *MockExtractor, *MockParser) {
	repo := new(MockRepo)
	objects := new(MockObjects)
	jobs := new(MockEnqueuer)
	extractor := new(MockExtractor)
	parser := new(MockParser)
	svc := NewService(repo, objects, jobs, extractor, parser, 15*time.Minute)
	return svc, repo, objects, jobs, extractor, parser
}

func TestService_Presign(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()

	repo.On("Create", mock.Anything, mock.MatchedBy(func(r *Receipt) bool {
		return r.Status == StatusPendingUpload &&
			r.UserID == "user-1" &&
			strings.HasPrefix(r.ObjectKey, "receipts/user-1/") &&
			strings.HasSuffix(r.ObjectKey, ".jpg")
	})).Return(nil)
	objects.On("PresignPut", mock.Anything, mock.Anything, 15*time.Minute).Return("https://storage/upload", nil)

	result, err := svc.Presign(context.Background(), "user-1", "dinner.jpg", "image/jpeg", 2048)
	require.NoError(t, err)
	assert.Equal(t, "https://storage/upload", result.UploadURL)
	assert.Equal(t, "rcpt-1", result.Receipt.ID)
	repo.AssertExpectations(t)
}

func TestService_Presign_UnsupportedType(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService()

	_, err := svc.Presign(context.Background(), "user-1", "virus.exe", "application/octet-stream", 100)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Presign_StripsPathFromFileName(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()

	repo.On("Create", mock.Anything, mock.MatchedBy(func(r *Receipt) bool {
		return r.FileName == "dinner.jpg"
	})).Return(nil)
	objects.On("PresignPut", mock.Anything, mock.Anything, mock.Anything).Return("https://storage/upload", nil)

	_, err := svc.Presign(context.Background(), "user-1", "../../etc/dinner.jpg", "image/jpeg", 100)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_Confirm(t *testing.T) {
	svc, repo, objects, jobs, _, _ := newTestService()

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{
		ID: "rcpt-1", UserID: "user-1", ObjectKey: "k", SizeBytes: 2048, Status: StatusPendingUpload,
	}, nil)
	objects.On("Stat", mock.Anything, "k").Return(objstore.ObjectInfo{Size: 2048}, nil)
	repo.On("UpdateStatus", mock.Anything, "rcpt-1", StatusUploaded).Return(nil)
	jobs.On("Enqueue", mock.Anything, "rcpt-1", "user-1").Return(&job.Job{ID: "job-1"}, nil)

	result, err := svc.Confirm(context.Background(), "rcpt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, result.Receipt.Status)
	assert.Equal(t, "job-1", result.Job.ID)
	jobs.AssertExpectations(t)
}

func TestService_Confirm_ObjectMissing(t *testing.T) {
	svc, repo, objects, jobs, _, _ := newTestService()

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{ID: "rcpt-1", ObjectKey: "k"}, nil)
	objects.On("Stat", mock.Anything, "k").Return(nil, objstore.ErrObjectNotFound)

	_, err := svc.Confirm(context.Background(), "rcpt-1")
	assert.ErrorIs(t, err, ErrNotUploaded)
	jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Confirm_SizeMismatch(t *testing.T) {
	svc, repo, objects, jobs, _, _ := newTestService()

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{ID: "rcpt-1", ObjectKey: "k", SizeBytes: 2048}, nil)
	objects.On("Stat", mock.Anything, "k").Return(objstore.ObjectInfo{Size: 17}, nil)

	_, err := svc.Confirm(context.Background(), "rcpt-1")
	assert.ErrorIs(t, err, ErrSizeMismatch)
	jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Confirm_NotFound(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService()

	repo.On("Get", mock.Anything, "missing").Return(nil, sql.ErrNoRows)

	_, err := svc.Confirm(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestService_Delete_RemovesObjectFirst(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{ID: "rcpt-1", ObjectKey: "k"}, nil)
	objects.On("Remove", mock.Anything, "k").Return(nil)
	repo.On("Delete", mock.Anything, "rcpt-1").Return(nil)

	require.NoError(t, svc.Delete(context.Background(), "rcpt-1"))
	objects.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestService_Delete_ToleratesMissingObject(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{ID: "rcpt-1", ObjectKey: "k"}, nil)
	objects.On("Remove", mock.Anything, "k").Return(objstore.ErrObjectNotFound)
	repo.On("Delete", mock.Anything, "rcpt-1").Return(nil)

	require.NoError(t, svc.Delete(context.Background(), "rcpt-1"))
}

func TestService_DownloadURL(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{ID: "rcpt-1", ObjectKey: "k", FileName: "dinner.jpg"}, nil)
	objects.On("PresignGet", mock.Anything, "k", "dinner.jpg", 15*time.Minute).Return("https://storage/download", nil)

	url, err := svc.DownloadURL(context.Background(), "rcpt-1")
	require.NoError(t, err)
	assert.Equal(t, "https://storage/download", url)
}

func TestService_Scan(t *testing.T) {
	svc, _, _, _, extractor, parser := newTestService()

	extractor.On("ExtractText", mock.Anything, mock.Anything, "image/jpeg").
		Return("WALMART 2024-01-01 TOTAL 10.00", nil)
	parser.On("Parse", mock.Anything, "WALMART 2024-01-01 TOTAL 10.00").
		Return(&pipeline.ParsedReceipt{Merchant: "Walmart", Amount: 10}, nil)

	parsed, err := svc.Scan(context.Background(), strings.NewReader("bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Walmart", parsed.Merchant)
}

func TestService_Scan_UnsupportedType(t *testing.T) {
	svc, _, _, _, extractor, _ := newTestService()

	_, err := svc.Scan(context.Background(), strings.NewReader("bytes"), "text/html")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	extractor.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Scan_ExtractorError(t *testing.T) {
	svc, _, _, _, extractor, parser := newTestService()

	extractor.On("ExtractText", mock.Anything, mock.Anything, "image/png").
		Return("", errors.New("ocr offline"))

	_, err := svc.Scan(context.Background(), strings.NewReader("bytes"), "image/png")
	assert.Error(t, err)
	parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}
