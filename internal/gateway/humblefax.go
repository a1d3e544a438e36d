package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medrecords/internal/utils"

	"github.com/sirupsen/logrus"
)

type HumbleFaxClient struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHumbleFaxClient(logger *logrus.Logger, baseURL, accessKey, secretKey string, timeout time.Duration) *HumbleFaxClient {
	return &HumbleFaxClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accessKey:  accessKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type tmpFaxRequest struct {
	Recipients        []int64 `json:"recipients"`
	Resolution        string  `json:"resolution"`
	PageSize          string  `json:"pageSize"`
	IncludeCoversheet bool    `json:"includeCoversheet"`
	FromName          string  `json:"fromName,omitempty"`
	ToName            string  `json:"toName,omitempty"`
}

type tmpFaxResponse struct {
	Data struct {
		TmpFax struct {
			ID json.Number `json:"id"`
		} `json:"tmpFax"`
	} `json:"data"`
}

// Submit runs the three step HumbleFax flow: create a temporary fax, attach
// the document, then send it. The temporary fax id is the job id reported in
// later status callbacks.
func (c *HumbleFaxClient) Submit(ctx context.Context, document []byte, destination string, meta Metadata) (string, error) {
	if !utils.ValidFaxNumber(destination) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}

	recipient, err := strconv.ParseInt(utils.NormalizeFaxNumber(destination), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}

	payload, err := json.Marshal(tmpFaxRequest{
		Recipients: []int64{recipient},
		Resolution: "Fine",
		PageSize:   "Letter",
		FromName:   meta.FromName,
		ToName:     meta.ToName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode tmpFax payload: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/tmpFax", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create tmpFax: %w", err)
	}

	var created tmpFaxResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("%w: decode tmpFax response: %v", ErrGatewayUnavailable, err)
	}

	jobID := created.Data.TmpFax.ID.String()
	if jobID == "" {
		return "", fmt.Errorf("%w: tmpFax response carried no id", ErrGatewayUnavailable)
	}

	fileName := meta.FileName
	if fileName == "" {
		fileName = "records-request.pdf"
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile(fileName, fileName)
	if err != nil {
		return "", fmt.Errorf("failed to build attachment form: %w", err)
	}
	if _, err := part.Write(document); err != nil {
		return "", fmt.Errorf("failed to build attachment form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build attachment form: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/attachment/"+jobID, mw.FormDataContentType(), &form); err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/tmpFax/"+jobID+"/send", "", nil); err != nil {
		return "", fmt.Errorf("send tmpFax: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":              jobID,
		"provider_request_id": meta.ProviderRequestID,
	}).Info("fax submitted to gateway")

	return jobID, nil
}

func (c *HumbleFaxClient) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.accessKey, c.secretKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d: %s", ErrInvalidDestination, resp.StatusCode, truncate(data))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, truncate(data))
	}
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
