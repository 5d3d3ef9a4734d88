package cds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Delay returns the wait before the given zero-based attempt.
func (b BackoffConfig) Delay(attempt int) time.Duration {
	delay := b.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
	if b.MaxInterval > 0 && (delay > b.MaxInterval || delay <= 0) {
		delay = b.MaxInterval
	}
	return delay
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// newCircuitBreaker returns the breaker shared by all calls to one CDS endpoint.
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequestWithResilience executes the HTTP request through the circuit
// breaker, retrying up to cfg.Backoff.MaxRetries times with exponential
// backoff. Non-2xx responses are errors and their bodies are closed.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			detail := readProblem(resp.Body)
			resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w%s", errRateLimited, detail)
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %d%s", errServerError, resp.StatusCode, detail)
			default:
				return nil, fmt.Errorf("%w: %d%s", errUnexpected, resp.StatusCode, detail)
			}
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		timer := time.NewTimer(cfg.Backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// readProblem extracts a short suffix from an error response body, which the
// CDS API sends as an RFC 7807 problem document.
func readProblem(body io.Reader) string {
	var p struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}
	if json.Unmarshal(raw, &p) != nil || (p.Title == "" && p.Detail == "") {
		return ""
	}
	if p.Detail == "" {
		return ": " + p.Title
	}
	return ": " + p.Title + ": " + p.Detail
}
