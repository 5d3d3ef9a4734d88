// Package cds retrieves datasets from the Copernicus Climate Data Store
// through its asynchronous retrieve API: a job is submitted, polled until it
// finishes and its result asset is streamed to disk.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/era5-downloader/internal/era5"
)

// DefaultURL is the public CDS API root.
const DefaultURL = "https://cds.climate.copernicus.eu/api"

// Job states reported by the API.
const (
	statusAccepted   = "accepted"
	statusRunning    = "running"
	statusSuccessful = "successful"
	statusFailed     = "failed"
	statusRejected   = "rejected"
	statusDismissed  = "dismissed"
)

var (
	// ErrJobFailed is returned when the remote job ends in a non-successful state.
	ErrJobFailed = errors.New("cds job did not succeed")
	// ErrNoAsset is returned when a successful job has no downloadable result.
	ErrNoAsset = errors.New("cds job has no result asset")
	// ErrSizeMismatch is returned when the transferred size differs from the advertised one.
	ErrSizeMismatch = errors.New("downloaded size does not match result asset")
)

// Config holds the endpoint, credentials and poll schedule.
type Config struct {
	URL             string
	Key             string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Client implements era5.Retriever against the CDS retrieve API.
type Client struct {
	baseURL string
	key     string
	httpCfg HTTPClientConfig
	poll    BackoffConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ era5.Retriever = (*Client)(nil)

// NewClient creates a CDS client. Requests are never retried; the backoff
// only spaces out job status polls.
func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Key == "" {
		return nil, errors.New("cds api key is not configured")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid cds api url: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		httpCfg: HTTPClientConfig{
			Client:  httpClient,
			Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: cfg.PollInterval, MaxInterval: cfg.MaxPollInterval},
		},
		poll:    BackoffConfig{InitialInterval: cfg.PollInterval, MaxInterval: cfg.MaxPollInterval},
		circuit: newCircuitBreaker("cds"),
		logger:  logger,
	}, nil
}

type jobStatus struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

type jobResults struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

// Error tags a retrieval failure with a short kind for logging.
type Error struct {
	kind string
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// Kind names the failure class, such as JobFailed or RateLimited.
func (e *Error) Kind() string { return e.kind }

var errorKinds = []struct {
	target error
	kind   string
}{
	{ErrJobFailed, "JobFailed"},
	{ErrNoAsset, "NoAsset"},
	{ErrSizeMismatch, "SizeMismatch"},
	{errCircuitOpen, "CircuitOpen"},
	{errRateLimited, "RateLimited"},
	{errServerError, "ServerError"},
	{errUnexpected, "UnexpectedStatus"},
}

// classify wraps err in an *Error when it matches a known failure class.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return &Error{kind: k.kind, err: err}
		}
	}
	return err
}

// Retrieve submits req for dataset, waits for the job and writes the result to dest.
func (c *Client) Retrieve(ctx context.Context, dataset string, req era5.Request, dest string) error {
	return classify(c.retrieve(ctx, dataset, req, dest))
}

func (c *Client) retrieve(ctx context.Context, dataset string, req era5.Request, dest string) error {
	job, err := c.submit(ctx, dataset, req)
	if err != nil {
		return fmt.Errorf("submit %s request: %w", dataset, err)
	}
	c.logger.Info("Request submitted", zap.String("job", job.JobID), zap.String("status", job.Status))

	if err := c.wait(ctx, job); err != nil {
		return err
	}

	results, err := c.results(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("fetch results of job %s: %w", job.JobID, err)
	}
	return c.fetchAsset(ctx, results, dest)
}

func (c *Client) submit(ctx context.Context, dataset string, req era5.Request) (jobStatus, error) {
	body, err := json.Marshal(map[string]any{"inputs": req})
	if err != nil {
		return jobStatus{}, err
	}
	endpoint := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.baseURL, url.PathEscape(dataset))

	var job jobStatus
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &job); err != nil {
		return jobStatus{}, err
	}
	if job.JobID == "" {
		return jobStatus{}, errors.New("response carries no job id")
	}
	return job, nil
}

// wait polls the job until it reaches a final state, doubling the pause
// between polls up to the configured maximum.
func (c *Client) wait(ctx context.Context, job jobStatus) error {
	endpoint := fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.baseURL, url.PathEscape(job.JobID))
	status := job.Status

	for attempt := 0; ; attempt++ {
		switch status {
		case statusSuccessful:
			return nil
		case statusFailed, statusRejected, statusDismissed:
			return fmt.Errorf("%w: job %s is %s", ErrJobFailed, job.JobID, status)
		}

		timer := time.NewTimer(c.poll.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		var current jobStatus
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &current); err != nil {
			return fmt.Errorf("poll job %s: %w", job.JobID, err)
		}
		if current.Status != status {
			c.logger.Info("Request is "+current.Status, zap.String("job", job.JobID))
		}
		status = current.Status
	}
}

func (c *Client) results(ctx context.Context, jobID string) (jobResults, error) {
	endpoint := fmt.Sprintf("%s/retrieve/v1/jobs/%s/results", c.baseURL, url.PathEscape(jobID))
	var res jobResults
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		return jobResults{}, err
	}
	if res.Asset.Value.Href == "" {
		return jobResults{}, ErrNoAsset
	}
	return res, nil
}

func (c *Client) fetchAsset(ctx context.Context, res jobResults, dest string) error {
	href, err := c.resolve(res.Asset.Value.Href)
	if err != nil {
		return err
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, href.String(), nil)
		if err != nil {
			return nil, err
		}
		// Asset links may be pre-signed URLs on another host; the key stays home.
		if c.sameHost(href) {
			req.Header.Set("PRIVATE-TOKEN", c.key)
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("download result asset: %w", err)
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if want := res.Asset.Value.Size; want > 0 && n != want {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, n, want)
	}
	c.logger.Debug("Result asset written", zap.String("dest", dest), zap.Int64("bytes", n))
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, endpoint, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("PRIVATE-TOKEN", c.key)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) resolve(href string) (*url.URL, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid asset href %q: %w", href, err)
	}
	return base.ResolveReference(ref), nil
}

func (c *Client) sameHost(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	return err == nil && strings.EqualFold(base.Host, u.Host)
}
