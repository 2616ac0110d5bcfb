package projectdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/httpkit"
)

// HTTPClient is the real Client implementation, built on the shared
// httpkit transport so outbound RPCs get consistent timeouts and
// connection pooling (§4.8).
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient constructs an HTTPClient targeting baseURL, with each RPC
// bounded by timeout (the "short connect timeout" §5 mandates).
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: baseURL,
		timeout: timeout,
		http:    httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:  logger,
	}
}

type donePayload struct {
	ProjectID     string `json:"project_id"`
	MSBID         string `json:"msb_id"`
	MSBTitle      string `json:"msb_title"`
	TransactionID string `json:"transaction_id"`
	QueueID       uint64 `json:"queue_id"`
	UserID        string `json:"user_id,omitempty"`
}

type rejectPayload struct {
	donePayload
	Reason string `json:"reason,omitempty"`
}

func (c *HTTPClient) Done(ctx context.Context, rec Record, userID string) error {
	return c.post(ctx, "/msb/done", donePayload{
		ProjectID: rec.ProjectID, MSBID: rec.MSBID, MSBTitle: rec.MSBTitle,
		TransactionID: rec.TransactionID, QueueID: rec.QueueID, UserID: userID,
	})
}

func (c *HTTPClient) Reject(ctx context.Context, rec Record, userID, reason string) error {
	return c.post(ctx, "/msb/reject", rejectPayload{
		donePayload: donePayload{
			ProjectID: rec.ProjectID, MSBID: rec.MSBID, MSBTitle: rec.MSBTitle,
			TransactionID: rec.TransactionID, QueueID: rec.QueueID, UserID: userID,
		},
		Reason: reason,
	})
}

func (c *HTTPClient) Suspend(ctx context.Context, projectID, msbID, obsLabel string) error {
	return c.post(ctx, "/msb/suspend", struct {
		ProjectID string `json:"project_id"`
		MSBID     string `json:"msb_id"`
		ObsLabel  string `json:"obs_label"`
	}{projectID, msbID, obsLabel})
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("projectdb: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("projectdb: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("projectdb: request to %s failed: %w", path, err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("projectdb: %s returned status %d: %s", path, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}
