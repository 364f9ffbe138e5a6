package controlplane

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

	"github.com/cenkalti/backoff/v4"

	"github.com/dukex/durion/pkg/models"
)

const apiVersion = "2025-12-01"

// APIError is a non-2xx response decoded from the service's uniform error
// body.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"Type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
}

// HTTPClient talks to a remote control-plane service. Transport failures and
// 503 responses retry with bounded exponential backoff; every other error
// response is permanent and surfaces as an *APIError.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// HTTPConfig tunes the client. The zero value uses a 30s request timeout
// and a 2 minute retry budget.
type HTTPConfig struct {
	Timeout    time.Duration
	MaxElapsed time.Duration
}

func NewHTTPClient(baseURL string, config HTTPConfig) *HTTPClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxElapsed := config.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 2 * time.Minute
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: maxElapsed,
	}
}

// StartDurableExecution starts a new execution and returns its ARN.
func (c *HTTPClient) StartDurableExecution(ctx context.Context, functionName string, input []byte) (string, error) {
	body, err := json.Marshal(struct {
		FunctionName string          `json:"functionName"`
		Input        json.RawMessage `json:"input,omitempty"`
	}{FunctionName: functionName, Input: input})
	if err != nil {
		return "", fmt.Errorf("encoding start request: %w", err)
	}

	var response struct {
		ExecutionARN string `json:"executionArn"`
	}

	err = c.do(ctx, http.MethodPost, "/start-durable-execution", "application/json", body, &response)
	if err != nil {
		return "", err
	}

	return response.ExecutionARN, nil
}

// DescribeExecution fetches the stored execution snapshot.
func (c *HTTPClient) DescribeExecution(ctx context.Context, arn string) (*models.Execution, error) {
	var execution models.Execution

	path := "/" + apiVersion + "/durable-executions/" + url.PathEscape(arn)

	err := c.do(ctx, http.MethodGet, path, "", nil, &execution)
	if err != nil {
		return nil, err
	}

	if execution.Root != nil {
		execution.Root.LinkParents()
	}

	return &execution, nil
}

// SendCallbackSuccess delivers a result payload to a pending callback.
func (c *HTTPClient) SendCallbackSuccess(ctx context.Context, token string, result []byte) error {
	path := "/callback-success?callback-id=" + url.QueryEscape(token)

	return c.do(ctx, http.MethodPost, path, "application/octet-stream", result, nil)
}

// SendCallbackFailure delivers a rejection payload to a pending callback.
func (c *HTTPClient) SendCallbackFailure(ctx context.Context, token string, payload []byte) error {
	path := "/callback-failure?callback-id=" + url.QueryEscape(token)

	return c.do(ctx, http.MethodPost, path, "application/octet-stream", payload, nil)
}

// Health checks service liveness.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}

		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			if err := json.Unmarshal(payload, apiErr); err != nil {
				apiErr.Type = "UnknownError"
				apiErr.Message = string(payload)
			}

			if resp.StatusCode == http.StatusServiceUnavailable {
				return apiErr
			}

			return backoff.Permanent(apiErr)
		}

		if out != nil {
			if err := json.Unmarshal(payload, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
