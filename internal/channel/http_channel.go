package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChannel talks to the provider's REST send endpoint.
type HTTPChannel struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPChannel(baseURL, token string, timeout time.Duration) *HTTPChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChannel{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	To          string            `json:"to"`
	Body        string            `json:"body,omitempty"`
	TemplateRef string            `json:"templateRef,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type errorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *HTTPChannel) Send(ctx context.Context, to, body string) (SendResult, error) {
	return c.post(ctx, "/v1/messages", sendRequest{To: to, Body: body})
}

func (c *HTTPChannel) SendTemplate(ctx context.Context, to, templateRef string, variables map[string]string) (SendResult, error) {
	return c.post(ctx, "/v1/messages/template", sendRequest{
		To:          to,
		TemplateRef: templateRef,
		Variables:   variables,
	})
}

func (c *HTTPChannel) post(ctx context.Context, path string, payload sendRequest) (SendResult, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var er errorResponse
		if err := json.Unmarshal(respBody, &er); err == nil && er.ErrorCode != "" {
			return SendResult{}, &SendError{Code: er.ErrorCode, Message: er.ErrorMessage}
		}
		return SendResult{}, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(respBody))
	}

	var sr sendResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return SendResult{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(respBody))
	}
	if sr.MessageID == "" {
		return SendResult{}, fmt.Errorf("missing messageId in response body=%q", string(respBody))
	}

	return SendResult{ProviderRef: sr.MessageID, Status: sr.Status}, nil
}
