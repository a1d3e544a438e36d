// Package ocr talks to the OCR sidecar that turns scanned faxes into text
// and searchable PDFs.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrEngineUnavailable = errors.New("ocr engine unavailable")

type Engine interface {
	ExtractText(ctx context.Context, document []byte) (string, error)
	ToSearchable(ctx context.Context, document []byte) ([]byte, error)
}

type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type extractResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

func (e *HTTPEngine) ExtractText(ctx context.Context, document []byte) (string, error) {
	body, err := e.post(ctx, "/extract", document, "application/json")
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}

	var out extractResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode extract response: %w", err)
	}

	return out.Text, nil
}

// ToSearchable returns the document with an invisible text layer added.
func (e *HTTPEngine) ToSearchable(ctx context.Context, document []byte) ([]byte, error) {
	body, err := e.post(ctx, "/searchable", document, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("convert to searchable: %w", err)
	}

	return body, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, document []byte, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", accept)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEngineUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	return data, nil
}
