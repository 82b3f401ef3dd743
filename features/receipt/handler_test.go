package receipt

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/pipeline"
)

func newTestMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /receipts/presign", h.Presign)
	mux.HandleFunc("POST /receipts/scan", h.Scan)
	mux.HandleFunc("POST /receipts/{id}/confirm", h.Confirm)
	mux.HandleFunc("GET /receipts", h.List)
	mux.HandleFunc("GET /receipts/{id}", h.Get)
	mux.HandleFunc("GET /receipts/{id}/download", h.Download)
	mux.HandleFunc("DELETE /receipts/{id}", h.Delete)
	return mux
}

func TestHandler_Presign(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()
	h := NewHandler(svc, 50<<20)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	objects.On("PresignPut", mock.Anything, mock.Anything, mock.Anything).Return("https://storage/upload", nil)

	body, _ := json.Marshal(map[string]interface{}{
		"file_name":    "dinner.jpg",
		"content_type": "image/jpeg",
		"size_bytes":   2048,
	})
	req := httptest.NewRequest(http.MethodPost, "/receipts/presign", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data PresignResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://storage/upload", resp.Data.UploadURL)
	assert.Equal(t, "rcpt-1", resp.Data.Receipt.ID)
}

func TestHandler_Presign_Validation(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()
	h := NewHandler(svc, 50<<20)

	cases := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"missing file name", map[string]interface{}{"content_type": "image/jpeg", "size_bytes": 10}, http.StatusBadRequest},
		{"zero size", map[string]interface{}{"file_name": "a.jpg", "content_type": "image/jpeg", "size_bytes": 0}, http.StatusBadRequest},
		{"too large", map[string]interface{}{"file_name": "a.jpg", "content_type": "image/jpeg", "size_bytes": 60 << 20}, http.StatusRequestEntityTooLarge},
		{"bad content type", map[string]interface{}{"file_name": "a.exe", "content_type": "application/octet-stream", "size_bytes": 10}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.body)
			req := httptest.NewRequest(http.MethodPost, "/receipts/presign", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			newTestMux(h).ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)

			var resp map[string]interface{}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Contains(t, resp, "error")
			assert.Contains(t, resp, "correlationId")
		})
	}
}

func TestHandler_Confirm(t *testing.T) {
	svc, repo, objects, jobs, _, _ := newTestService()
	h := NewHandler(svc, 50<<20)

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{
		ID: "rcpt-1", UserID: "user-1", ObjectKey: "k", SizeBytes: 10,
	}, nil)
	objects.On("Stat", mock.Anything, "k").Return(objstore.ObjectInfo{Size: 10}, nil)
	repo.On("UpdateStatus", mock.Anything, "rcpt-1", StatusUploaded).Return(nil)
	jobs.On("Enqueue", mock.Anything, "rcpt-1", "user-1").Return(&job.Job{ID: "job-1"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/receipts/rcpt-1/confirm", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data ConfirmResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-1", resp.Data.Job.ID)
}

func TestHandler_Confirm_NotUploaded(t *testing.T) {
	svc, repo, objects, _, _, _ := newTestService()
	h := NewHandler(svc, 50<<20)

	repo.On("Get", mock.Anything, "rcpt-1").Return(&Receipt{ID: "rcpt-1", ObjectKey: "k"}, nil)
	objects.On("Stat", mock.Anything, "k").Return(nil, objstore.ErrObjectNotFound)

	req := httptest.NewRequest(http.MethodPost, "/receipts/rcpt-1/confirm", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_Get_NotFound(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService()
	h := NewHandler(svc, 50<<20)

	repo.On("Get", mock.Anything, "missing").Return(nil, sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/receipts/missing", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestHandler_List_EmptyReturnsArray(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService()
	h := NewHandler(svc, 50<<20)

	repo.On("List", mock.Anything, "default").Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/receipts", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestHandler_Scan(t *testing.T) {
	svc, _, _, _, extractor, parser := newTestService()
	h := NewHandler(svc, 50<<20)

	extractor.On("ExtractText", mock.Anything, mock.Anything, "image/jpeg").Return("text", nil)
	parser.On("Parse", mock.Anything, "text").Return(&pipeline.ParsedReceipt{Merchant: "Walmart", Amount: 10}, nil)

	req := httptest.NewRequest(http.MethodPost, "/receipts/scan", strings.NewReader("imagebytes"))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Walmart")
}
