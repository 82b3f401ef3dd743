package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnreadable is returned when the OCR sidecar processed the object but
// could not extract any text from it. Retrying the same bytes will not
// help.
var ErrUnreadable = errors.New("ocr: content unreadable")

// ErrServiceUnavailable wraps transport and 5xx failures from the sidecar.
var ErrServiceUnavailable = errors.New("ocr: service unavailable")

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// extractResponse mirrors the sidecar contract: it always answers valid
// JSON with the extracted text and an optional error string.
type extractResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// ExtractText streams the raw object bytes to the OCR sidecar and returns
// the extracted text. The sidecar detects PDFs vs images itself.
func (c *Client) ExtractText(ctx context.Context, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", body)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr: unexpected status %d", resp.StatusCode)
	}

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ocr: decode response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnreadable, result.Error)
	}
	if strings.TrimSpace(result.Text) == "" {
		return "", ErrUnreadable
	}
	return result.Text, nil
}
