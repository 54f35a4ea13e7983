// Package runner is the HTTP client for the remote VMAF execution service.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for runner client failures.
var (
	ErrAuthFailure       = errors.New("runner rejected credential request")
	ErrSubmissionFailure = errors.New("runner rejected task submission")
	ErrRunnerUnreachable = errors.New("runner unreachable")
	ErrRunnerTimeout     = errors.New("runner request timeout")
	ErrTaskNotFound      = errors.New("task not found")
)

// Client is the interface for talking to the remote comparison runner.
type Client interface {
	// AccessToken obtains a short-lived service-access token.
	AccessToken(ctx context.Context, service string) (string, error)
	// SubmitTask creates a comparison task and returns the external task name
	// assigned by the runner.
	SubmitTask(ctx context.Context, service, token string, task TaskSpec) (string, error)
	// TaskStatus returns the runner-native status string for a task. Callers
	// normalize it with Normalize.
	TaskStatus(ctx context.Context, service, name, token string) (string, error)
}

// TaskSpec describes a comparison task to submit.
type TaskSpec struct {
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Arguments   []string          `json:"arguments"`
}

// HTTPClient implements Client against the runner's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new runner HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) AccessToken(ctx context.Context, service string) (string, error) {
	body, _ := json.Marshal(map[string]string{"service": service})
	u := fmt.Sprintf("%s/api/v1/tokens", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrAuthFailure, resp.StatusCode)
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthFailure)
	}

	return tokenResp.Token, nil
}

func (c *HTTPClient) SubmitTask(ctx context.Context, service, token string, task TaskSpec) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encoding task: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/services/%s/tasks", c.baseURL, url.PathEscape(service))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d", ErrSubmissionFailure, resp.StatusCode)
	}

	var taskResp struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&taskResp); err != nil {
		return "", fmt.Errorf("decoding task response: %w", err)
	}
	if taskResp.Name == "" {
		return "", fmt.Errorf("%w: runner returned no task name", ErrSubmissionFailure)
	}

	return taskResp.Name, nil
}

func (c *HTTPClient) TaskStatus(ctx context.Context, service, name, token string) (string, error) {
	u := fmt.Sprintf("%s/api/v1/services/%s/tasks/%s",
		c.baseURL, url.PathEscape(service), url.PathEscape(name))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrRunnerUnreachable, resp.StatusCode)
	}

	var statusResp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statusResp); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}

	return statusResp.Status, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRunnerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrRunnerTimeout, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrRunnerUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
