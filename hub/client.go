// Package hub fetches model files from the Hugging Face Hub into a local cache laid out the way
// huggingface_hub lays it out: revisions resolve through refs/ to commit snapshots, so a cache
// filled by either tool serves the other, offline included.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.viam.com/rdk/logging"
)

// Hub endpoints and environment variables.
const (
	DefaultHubURL      = "https://huggingface.co"
	DefaultRevision    = "main"
	DefaultTimeout     = 30 * time.Minute
	EnvHFToken         = "HF_TOKEN"
	EnvHFEndpoint      = "HF_ENDPOINT"
	EnvHFHubOffline    = "HF_HUB_OFFLINE"
	HeaderRepoCommit   = "X-Repo-Commit"
	ClientUserAgent    = "grounding-dino/1.0"
	maxErrorBodyLength = 1024
)

var (
	// ErrModelNotFound is returned when the repository or file does not exist.
	ErrModelNotFound = errors.New("model or file not found on the hub")
	// ErrUnauthorized is returned for private or gated repositories without a valid token.
	ErrUnauthorized = errors.New("hub authentication failed")
	// ErrRateLimited is returned when the hub throttles requests.
	ErrRateLimited = errors.New("hub rate limit exceeded")
	// ErrInvalidModelID is returned for ids not of the form owner/name.
	ErrInvalidModelID = errors.New("invalid model id")
	// ErrOffline is returned when a file is not cached and downloads are disabled.
	ErrOffline = errors.New("file not cached and hub is offline")
	// ErrInvalidResponse is returned for any other unexpected hub response.
	ErrInvalidResponse = errors.New("unexpected hub response")
)

// Client downloads files from the hub.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	cacheDir   string
	offline    bool
	logger     logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the access token sent as a bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBaseURL points the client at a hub mirror.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithCacheDir overrides the cache root.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) { c.cacheDir = dir }
}

// WithOffline disables network access; only cached files are served.
func WithOffline(offline bool) ClientOption {
	return func(c *Client) { c.offline = offline }
}

// WithLogger sets the logger used to report downloads.
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client configured from the environment, then from options.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    DefaultHubURL,
		userAgent:  ClientUserAgent,
		cacheDir:   CacheDir(),
		token:      os.Getenv(EnvHFToken),
	}
	if endpoint := os.Getenv(EnvHFEndpoint); endpoint != "" {
		c.baseURL = strings.TrimSuffix(endpoint, "/")
	}
	if offline, err := strconv.ParseBool(os.Getenv(EnvHFHubOffline)); err == nil {
		c.offline = offline
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL returns the hub endpoint in use.
func (c *Client) BaseURL() string { return c.baseURL }

// CacheRoot returns the cache directory in use.
func (c *Client) CacheRoot() string { return c.cacheDir }

// DownloadFile returns the local path of one repository file, downloading it into the snapshot
// cache when it is not there yet.
//
// Arguments:
//   - ctx: Cancels the download.
//   - modelID: The repository id, owner/name.
//   - revision: The branch, tag or commit; empty means main.
//   - filename: The path of the file inside the repository.
//
// Returns:
//   - string: The local path of the file.
//   - error: ErrOffline, ErrModelNotFound, ErrUnauthorized, ErrRateLimited, ErrInvalidModelID or a
//     transport error.
func (c *Client) DownloadFile(ctx context.Context, modelID, revision, filename string) (string, error) {
	if err := ValidateModelID(modelID); err != nil {
		return "", err
	}
	if err := ValidatePath(filename); err != nil {
		return "", err
	}
	if revision == "" {
		revision = DefaultRevision
	}
	if err := ValidatePath(revision); err != nil {
		return "", err
	}

	if path, ok := CachedFile(c.cacheDir, modelID, revision, filename); ok {
		return path, nil
	}
	if c.offline {
		return "", fmt.Errorf("%w: %s/%s", ErrOffline, modelID, filename)
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, modelID, revision, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("%s/%s: %w", modelID, filename, err)
	}

	commit := repoCommit(resp)
	if ValidatePath(commit) != nil {
		commit = revision
	}
	targetPath := filepath.Join(snapshotPath(c.cacheDir, modelID, commit), filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(targetPath), ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}
	tmpFile = nil
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return "", fmt.Errorf("failed to move download into cache: %w", err)
	}
	if commit != revision {
		if err := writeRef(c.cacheDir, modelID, revision, commit); err != nil {
			return "", fmt.Errorf("failed to record revision %s: %w", revision, err)
		}
	}

	if c.logger != nil {
		c.logger.Infow("downloaded model file",
			"model_id", modelID, "file", filename, "bytes", written, "elapsed", time.Since(start))
	}
	return targetPath, nil
}

// repoCommit returns the commit the hub resolved the request to. Large files redirect to a CDN,
// so the header may only be on an earlier response of the chain.
func repoCommit(resp *http.Response) string {
	for r := resp; r != nil; {
		if commit := strings.TrimSpace(r.Header.Get(HeaderRepoCommit)); commit != "" {
			return commit
		}
		if r.Request == nil {
			break
		}
		r = r.Request.Response
	}
	return ""
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func checkResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		return fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// ValidateModelID checks that id has the form owner/name.
func ValidateModelID(id string) error {
	owner, name, ok := strings.Cut(id, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q, want owner/name", ErrInvalidModelID, id)
	}
	return nil
}
