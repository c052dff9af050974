// Package adapters implements the model service contracts of internal/core:
// HTTP clients for the remote transform, enhance, emotion and speech
// services, a chatllm-backed synthesizer, and deterministic local stand-ins.
//
// Every adapter classifies its failures as TransientServiceError or
// PermanentServiceError so the retry policy can decide what to do next.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/sony/gobreaker"
)

// API paths and headers.
const (
	apiHealth = "/health"

	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"

	defaultMaxResponseBytes = 64 << 20
)

// Breaker defaults used when ServiceConfig leaves them unset.
const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	breakerHalfOpenRequests = 1
)

var (
	// ErrMalformedResponse is returned when a 200 response cannot be used.
	ErrMalformedResponse = errors.New("malformed service response")
	// ErrEmptyText is returned when an adapter is called without text.
	ErrEmptyText = errors.New("text cannot be empty")
)

// ServiceConfig locates one remote service.
type ServiceConfig struct {
	Name    string
	BaseURL string
	// FailureThreshold is the number of consecutive transient failures that
	// opens the breaker.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HTTPClient overrides http.DefaultClient settings. Per-call deadlines come
	// from the context.
	HTTPClient *http.Client
	// MaxResponseBytes caps a response body. Larger bodies are rejected.
	MaxResponseBytes int64
}

// HealthChecker is implemented by every adapter that talks to a remote
// service.
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// ServiceErrorResponse is the structured error body the services return.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

// serviceClient is the shared HTTP transport of the remote adapters. Each
// service gets its own client and therefore its own circuit breaker.
type serviceClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxBody    int64
}

func newServiceClient(cfg ServiceConfig) *serviceClient {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}

	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}

	return &serviceClient{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		maxBody:    maxBody,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: breakerHalfOpenRequests,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			// Only transient failures say anything about service health.
			IsSuccessful: func(err error) bool {
				return err == nil || !core.IsTransient(err)
			},
		}),
	}
}

// Name returns the service name.
func (c *serviceClient) Name() string {
	return c.name
}

// postJSON sends payload to path and returns the body of a 200 response
// whose content type matches accept.
func (c *serviceClient) postJSON(ctx context.Context, op, path string, payload any, accept string) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewError(core.KindPermanentService, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, op, path, requestBody, accept)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, core.NewError(core.KindTransientService, op,
				fmt.Errorf("%s circuit breaker: %w", c.name, err))
		}

		return nil, core.Classify(op, err)
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, core.Errorf(core.KindPermanentService, op, "%w: unexpected body type", ErrMalformedResponse)
	}

	return body, nil
}

func (c *serviceClient) do(ctx context.Context, op, path string, requestBody []byte, accept string) ([]byte, error) {
	url := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, core.NewError(core.KindPermanentService, op, fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewError(core.KindTransientService, op,
			fmt.Errorf("failed to send request to %s at %s: %w", c.name, c.baseURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewError(classifyStatus(resp.StatusCode), op, parseErrorResponse(c.name, resp))
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get(headerContentType))
	if err != nil || mediaType != accept {
		return nil, core.Errorf(core.KindPermanentService, op,
			"%w: unexpected content type: expected %s, got %q", ErrMalformedResponse, accept,
			resp.Header.Get(headerContentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, core.NewError(core.KindTransientService, op, fmt.Errorf("failed to read response: %w", err))
	}

	if int64(len(body)) > c.maxBody {
		return nil, core.Errorf(core.KindPermanentService, op,
			"%w: response from %s exceeds %d bytes", ErrMalformedResponse, c.name, c.maxBody)
	}

	return body, nil
}

// HealthCheck verifies that the service answers on its health endpoint.
// It bypasses the breaker.
func (c *serviceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for %s at %s: %w", c.name, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check for %s failed with status: %s", c.name, resp.Status)
	}

	return nil
}

// classifyStatus maps a non-200 status to an error kind. Server faults,
// timeouts and throttling may clear on retry; other client errors will not.
func classifyStatus(status int) core.Kind {
	switch {
	case status >= http.StatusInternalServerError,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return core.KindTransientService
	default:
		return core.KindPermanentService
	}
}

// parseErrorResponse decodes a structured error body, falling back to the
// raw text.
func parseErrorResponse(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBytes))

	var errorResp ServiceErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && (errorResp.Detail != "" || errorResp.Error != "") {
		detail := errorResp.Detail
		if detail == "" {
			detail = errorResp.Error
		}

		return fmt.Errorf("%s service error (%s): %s (code: %s)", service, resp.Status, detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%s service returned non-OK status: %s, body: %s", service, resp.Status, strings.TrimSpace(string(body)))
}

// decodeJSON parses a service response body into target.
func decodeJSON(op string, data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return core.NewError(core.KindPermanentService, op,
			fmt.Errorf("%w: failed to unmarshal JSON: %w", ErrMalformedResponse, err))
	}

	return nil
}
