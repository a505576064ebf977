package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storybook/internal/jobs"
	"storybook/internal/logging"
	"storybook/internal/services"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultUploadTimeout  = 120 * time.Second
	maxErrorBody          = 4 << 10
	requestIDHeader       = "X-Request-ID"
)

// Config captures the settings needed to reach the job API.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

// Client talks to the job API rooted at Config.BaseURL.
type Client struct {
	base         *url.URL
	httpClient   *http.Client
	uploadClient *http.Client
	logger       *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the client used for JSON calls and uploads.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
			c.uploadClient = client
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "backend")
	}
}

// NewClient validates the base URL and constructs a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, services.Wrap(services.ErrConfiguration, "backend", "new client", "base url is required", nil)
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "backend", "new client", "parse base url", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, services.Wrap(services.ErrConfiguration, "backend", "new client",
			fmt.Sprintf("unsupported scheme %q", base.Scheme), nil)
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	client := &Client{
		base:         base,
		httpClient:   &http.Client{Timeout: requestTimeout},
		uploadClient: &http.Client{Timeout: uploadTimeout},
		logger:       logging.NewComponentLogger(nil, "backend"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// CreateProject allocates a new project on the backend.
func (c *Client) CreateProject(ctx context.Context) (string, error) {
	var resp struct {
		ProjectID string `json:"project_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "projects/new", nil, &resp); err != nil {
		return "", err
	}
	if id := strings.TrimSpace(resp.ProjectID); id != "" {
		return id, nil
	}
	return "", services.Wrap(services.ErrRemote, "backend", "create project", "response missing project_id", nil)
}

// PollJob fetches the current status of a job.
func (c *Client) PollJob(ctx context.Context, jobID string) (jobs.Report, error) {
	var report jobs.Report
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return report, services.Wrap(services.ErrValidation, "backend", "poll job", "job id is required", nil)
	}
	err := c.doJSON(ctx, http.MethodGet, "jobs/"+url.PathEscape(jobID), nil, &report)
	return report, err
}

// Ping checks that the API root answers HTTP. Any response, including an
// error status, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("projects/ping"), nil)
	if err != nil {
		return fmt.Errorf("backend ping: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "backend", "ping", c.base.Host+" unreachable", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// ResolveURL turns a server-relative output reference into an absolute URL.
// Absolute references and empty strings are returned unchanged.
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(parsed).String()
}

// Project returns a client bound to projectID.
func (c *Client) Project(projectID string) *Project {
	return &Project{client: c, id: strings.TrimSpace(projectID)}
}

func (c *Client) endpoint(rel string) string {
	return c.base.JoinPath(strings.Split(rel, "/")...).String()
}

func (c *Client) doJSON(ctx context.Context, method, rel string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend %s %s: encode body: %w", method, rel, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(rel), reader)
	if err != nil {
		return fmt.Errorf("backend %s %s: new request: %w", method, rel, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(ctx, c.httpClient, req, rel, out)
}

func (c *Client) send(ctx context.Context, httpClient *http.Client, req *http.Request, rel string, out any) error {
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set(requestIDHeader, id)
	}
	started := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return services.Wrap(services.ErrTransient, "backend", req.Method+" "+rel, "request failed", err)
	}
	defer resp.Body.Close()

	logging.WithContext(ctx, c.logger).Debug("backend request",
		logging.String("method", req.Method),
		logging.String("path", rel),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: req.Method, Path: rel, StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrRemote, "backend", req.Method+" "+rel, "decode response", err)
	}
	return nil
}
