package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/store"
)

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(cfg config.RemoteConfig, httpClient *http.Client) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9090"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.GetSendTimeout()}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.AuthToken),
		httpClient: httpClient,
	}
}

type sendRequest struct {
	MutationID  string          `json:"mutationId"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion string          `json:"baseVersion"`
}

type sendResponse struct {
	Version       string          `json:"version,omitempty"`
	ServerVersion string          `json:"serverVersion,omitempty"`
	ServerPayload json.RawMessage `json:"serverPayload,omitempty"`
	Message       string          `json:"message,omitempty"`
}

func (c *HTTPClient) Send(ctx context.Context, m *store.QueuedMutation) (SendResult, error) {
	body, err := json.Marshal(sendRequest{
		MutationID:  m.ID,
		Operation:   string(m.Operation),
		Payload:     m.Payload,
		BaseVersion: m.BaseVersion,
	})
	if err != nil {
		return SendResult{Status: StatusFatal, Message: err.Error()}, nil
	}

	endpoint := fmt.Sprintf("%s/v1/entities/%s/%s/mutations",
		c.baseURL, url.PathEscape(m.EntityType), url.PathEscape(m.EntityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{Status: StatusFatal, Message: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	// Retries replay with the same key so the server can dedupe.
	req.Header.Set("Idempotency-Key", m.ID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failure, timeout included: transient by definition.
		return SendResult{Status: StatusTransient, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{Status: StatusTransient, Message: err.Error()}, nil
	}

	var parsed sendResponse
	if len(data) > 0 {
		_ = json.Unmarshal(data, &parsed)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return SendResult{
			Status:     StatusAccepted,
			NewVersion: parsed.Version,
		}, nil

	case resp.StatusCode == http.StatusConflict:
		return SendResult{
			Status:        StatusVersionConflict,
			ServerVersion: parsed.ServerVersion,
			ServerPayload: parsed.ServerPayload,
			Message:       parsed.Message,
		}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return SendResult{
			Status:  StatusFatal,
			Message: fmt.Sprintf("auth rejected (http %d): %s", resp.StatusCode, parsed.Message),
		}, nil

	case resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500:
		return SendResult{
			Status:  StatusTransient,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, parsed.Message),
		}, nil

	default:
		// Remaining 4xx: the server will never accept this as-is.
		return SendResult{
			Status:  StatusFatal,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, parsed.Message),
		}, nil
	}
}

// Probe checks reachability against the server health endpoint and reports
// round-trip latency for quality grading.
func (c *HTTPClient) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("health endpoint returned http %d", resp.StatusCode)
	}
	return time.Since(start), nil
}
