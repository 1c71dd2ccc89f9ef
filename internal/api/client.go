package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/multiapi/driveman/internal/config"
	"github.com/multiapi/driveman/internal/logging"
	"github.com/multiapi/driveman/internal/models"
	"github.com/multiapi/driveman/internal/ratelimit"
)

// maxResponseBytes caps how much of a response body we read into memory.
const maxResponseBytes = 16 << 20

// retryLogger bridges retryablehttp's LeveledLogger onto our logger.
// Only errors and warnings are forwarded; retry chatter stays silent.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}

// Client is the driveman backend API client. All calls take a context, are
// bounded by the configured request timeout, and are paced by a shared
// client-side token bucket.
type Client struct {
	httpClient    *nethttp.Client
	uploadClient  *nethttp.Client
	baseURL       string
	timeout       time.Duration
	uploadTimeout time.Duration
	limiter       *ratelimit.Limiter
	log           *logging.Logger
}

// NewClient creates a backend API client from the injected configuration.
func NewClient(cfg *config.Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	logger = logger.Component("api")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = &retryLogger{log: logger}
	// 429 must reach the caller so refresh tasks can enter their cooldown.
	// Only transport failures and 5xx are retried inside a single call.
	retryClient.CheckRetry = func(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode >= 500 && resp.StatusCode != 501 {
			return true, nil
		}
		return false, nil
	}

	return &Client{
		httpClient: retryClient.StandardClient(),
		// Uploads stream a non-replayable multipart body, so they bypass the
		// retry wrapper. A failed upload is a per-job failure, not a retry.
		uploadClient:  &nethttp.Client{},
		baseURL:       strings.TrimSuffix(cfg.Backend.URL, "/"),
		timeout:       cfg.Backend.RequestTimeout(),
		uploadTimeout: cfg.Backend.UploadTimeout(),
		limiter:       ratelimit.NewBackendLimiter(),
		log:           logger,
	}
}

// envelope is the uniform success/error shape every backend response carries.
type envelope struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	RateLimited bool   `json:"rateLimited,omitempty"`
}

// do performs one backend call and decodes the payload into out (if non-nil).
// The returned error, when non-nil, is always a classified *Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(fmt.Errorf("rate limiter cancelled: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindApplication, Err: fmt.Errorf("failed to marshal request body: %w", err)}
		}
		reqBody = bytes.NewReader(jsonData)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return &Error{Kind: KindApplication, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Str("method", method).Str("path", path).Err(err).Msg("request failed")
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(fmt.Errorf("failed to read response body: %w", err))
	}

	return c.decode(resp, path, data, out)
}

// decode validates the response envelope and unmarshals the payload.
func (c *Client) decode(resp *nethttp.Response, path string, data []byte, out interface{}) error {
	var env envelope
	// The envelope may be absent on proxy-generated error pages; a decode
	// failure on an error status still classifies by status code below.
	_ = json.Unmarshal(data, &env)

	if resp.StatusCode == 429 || env.RateLimited {
		c.log.Warn().Str("path", path).Msg("backend throttled request")
		return &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Message: env.Error}
	}
	if resp.StatusCode >= 400 {
		return &Error{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: env.Error}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return &Error{Kind: KindApplication, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindApplication, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// Health fetches the backend health probe payload.
func (c *Client) Health(ctx context.Context) (*models.BackendHealth, error) {
	var resp struct {
		envelope
		models.BackendHealth
	}
	if err := c.do(ctx, nethttp.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.BackendHealth, nil
}

// Probe performs a health check and reports only reachability.
// This is the call the health monitor schedules.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// ListAccounts fetches all connected accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var resp struct {
		envelope
		Accounts []models.Account `json:"accounts"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// SyncStatus fetches the sync state of one account.
func (c *Client) SyncStatus(ctx context.Context, accountKey string) (*models.SyncStatus, error) {
	var resp struct {
		envelope
		Status models.SyncStatus `json:"status"`
	}
	path := "/sync/" + url.PathEscape(accountKey) + "/status"
	if err := c.do(ctx, nethttp.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Status, nil
}

// Search performs a paginated file search. An empty query with no filters is
// valid and returns the default view (the backend's unfiltered listing).
func (c *Client) Search(ctx context.Context, query string, filters models.SearchFilters, page, pageSize int) (*models.SearchResult, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	for k, v := range filters {
		if v != "" {
			params.Set(k, v)
		}
	}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		params.Set("pageSize", strconv.Itoa(pageSize))
	}

	var resp struct {
		envelope
		models.SearchResult
	}
	if err := c.do(ctx, nethttp.MethodGet, "/search", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.SearchResult, nil
}

// DefaultView fetches the unfiltered file listing shown before any search.
func (c *Client) DefaultView(ctx context.Context, page, pageSize int) (*models.SearchResult, error) {
	return c.Search(ctx, "", nil, page, pageSize)
}

// DedupReport fetches groups of duplicate files.
func (c *Client) DedupReport(ctx context.Context, minSize int64, groupBy string, limit int) ([]models.DedupGroup, error) {
	params := url.Values{}
	params.Set("minSize", strconv.FormatInt(minSize, 10))
	if groupBy == "" {
		groupBy = "md5"
	}
	params.Set("groupBy", groupBy)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		envelope
		Groups []models.DedupGroup `json:"groups"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/reports/dedup", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// StorageReport fetches storage usage, optionally scoped to one account.
func (c *Client) StorageReport(ctx context.Context, accountKey string) (*models.StorageReport, error) {
	params := url.Values{}
	if accountKey != "" {
		params.Set("accountKey", accountKey)
	}

	var resp struct {
		envelope
		Report models.StorageReport `json:"report"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/reports/storage", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Report, nil
}

// HealthReport fetches the aggregated system health report.
func (c *Client) HealthReport(ctx context.Context) (*models.HealthReport, error) {
	var resp struct {
		envelope
		Report models.HealthReport `json:"report"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/reports/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Report, nil
}

// SyncPerformanceReport fetches recent sync timing statistics.
func (c *Client) SyncPerformanceReport(ctx context.Context) (*models.SyncPerformance, error) {
	var resp struct {
		envelope
		Report models.SyncPerformance `json:"report"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/reports/sync-performance", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Report, nil
}

// progressReader reports read progress through a callback.
type progressReader struct {
	r        io.Reader
	total    int64
	written  int64
	progress func(written, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.written += int64(n)
		if pr.progress != nil {
			pr.progress(pr.written, pr.total)
		}
	}
	return n, err
}

// UploadFile streams one local file to the backend multipart upload endpoint.
// progress (optional) receives cumulative bytes read from the local file.
// The whole call is bounded by the upload timeout.
func (c *Client) UploadFile(ctx context.Context, localPath, accountKey, parentFolderID string, progress func(written, total int64)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(fmt.Errorf("rate limiter cancelled: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return &Error{Kind: KindApplication, Err: fmt.Errorf("failed to open file: %w", err)}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &Error{Kind: KindApplication, Err: fmt.Errorf("failed to stat file: %w", err)}
	}

	// Stream the multipart body through a pipe so large files never sit in
	// memory.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		if err := writer.WriteField("accountKey", accountKey); err != nil {
			pw.CloseWithError(err)
			return
		}
		if parentFolderID != "" {
			if err := writer.WriteField("parentId", parentFolderID); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := writer.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: file, total: info.Size(), progress: progress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+"/files/upload/multipart", pr)
	if err != nil {
		return &Error{Kind: KindApplication, Err: fmt.Errorf("failed to create upload request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(fmt.Errorf("failed to read upload response: %w", err))
	}
	return c.decode(resp, "/files/upload/multipart", data, nil)
}
