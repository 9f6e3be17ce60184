package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/household-ledger/internal/logging"
)

// httpClient is the shared transport for provider adapters. External
// institutions are rate-sensitive, so every adapter call goes through a
// per-provider limiter; transient transport faults are retried a few times
// before they surface to the orchestrator.
type httpClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// newHTTPClient creates a provider transport with the given base URL and
// request budget in requests per second
func newHTTPClient(tag, baseURL string, requestsPerSec float64) *httpClient {
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}

	return &httpClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		logger:  logging.GetGlobalLogger().WithField("provider", tag),
	}
}

// retryableStatus reports whether an HTTP status indicates a transient
// provider fault worth retrying
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// postJSON posts a JSON body and decodes the response into out when the
// status is 2xx. The status code is returned either way so adapters can
// classify authentication rejections themselves.
func (h *httpClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var status int
	var respBody []byte

	err = retry.Do(
		func() error {
			if err := h.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to build request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := h.client.Do(req)
			if err != nil {
				// Transport faults are retryable
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			status = resp.StatusCode
			respBody, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if err != nil {
				return fmt.Errorf("failed to read response body: %w", err)
			}

			if retryableStatus(status) {
				return fmt.Errorf("provider returned status %d", status)
			}

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			h.logger.WithFields(map[string]interface{}{
				"attempt": n + 1,
				"path":    path,
			}).WithError(err).Warn("Retrying provider request")
		}),
	)
	if err != nil {
		// A retryable status that never recovered still carries its code
		if status != 0 && retryableStatus(status) {
			return status, err
		}
		return 0, err
	}

	if status >= 200 && status < 300 && out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return status, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return status, nil
}
