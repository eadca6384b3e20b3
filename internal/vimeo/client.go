// Package vimeo is a small client for the parts of the Vimeo API needed to
// back up an account: folders, videos and their file descriptors.
package vimeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/retry"
	"github.com/italolelis/vimeo_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the Vimeo API endpoint.
	DefaultBaseURL = "https://api.vimeo.com"

	// PageSize is the number of items requested per page.
	PageSize = 50

	acceptHeader   = "application/vnd.vimeo.*+json;version=3.4"
	userAgent      = "vimeo-downloader/1.0"
	clientType     = "vimeo"
	defaultTimeout = 60 * time.Second
)

// VideoFields is the field filter used when listing videos. It covers the
// file descriptors plus the metadata captured in sidecars.
const VideoFields = "uri,name,description,duration,width,height,language,link," +
	"created_time,modified_time,release_time,privacy,tags,files,download," +
	"metadata.connections.folders.total"

const folderFields = "uri,name,metadata.connections.parent_folder.uri"

// Client talks to the Vimeo API with a bearer token. Every request is wrapped
// in the configured retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	telemetry  *telemetry.Telemetry
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRetryPolicy overrides the retry policy. The predicate is always
// Retryable.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithTelemetry records API operations.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Client) {
		c.telemetry = t
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a client authenticated with the given personal access
// token.
func NewClient(token string, opts ...Option) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "bearer"})

	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &oauth2.Transport{
				Source: tokenSource,
				Base:   otelhttp.NewTransport(http.DefaultTransport),
			},
		},
		policy: retry.Default(Retryable),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.policy.Retryable = Retryable

	return c
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "me", "/me", url.Values{"fields": {"uri,name"}}, &u); err != nil {
		return nil, err
	}

	return &u, nil
}

// ListFolders walks every folder of the account.
func (c *Client) ListFolders(ctx context.Context, fn func(Folder) error) error {
	return Paginate(ctx, c, "list_folders", "/me/projects", url.Values{"fields": {folderFields}}, fn)
}

// ListFolderVideos walks the videos directly inside folder.
func (c *Client) ListFolderVideos(ctx context.Context, folder Folder, fn func(Video) error) error {
	return Paginate(ctx, c, "list_folder_videos", folder.URI+"/videos", url.Values{"fields": {VideoFields}}, fn)
}

// ListVideos walks every video of the account, filed or not.
func (c *Client) ListVideos(ctx context.Context, fn func(Video) error) error {
	return Paginate(ctx, c, "list_videos", "/me/videos", url.Values{"fields": {VideoFields}}, fn)
}

// GetVideo fetches a single video, e.g. to refresh expired file links.
func (c *Client) GetVideo(ctx context.Context, uri string) (*Video, error) {
	var v Video
	if err := c.get(ctx, "get_video", uri, url.Values{"fields": {VideoFields}}, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

// get issues a retried GET for pathOrURL and decodes the JSON body into out.
// pathOrURL is either an API path or an absolute URL such as a paging link.
func (c *Client) get(ctx context.Context, operation, pathOrURL string, query url.Values, out any) error {
	target, err := c.resolve(pathOrURL, query)
	if err != nil {
		return err
	}

	p := c.policy
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		reason := "transient"
		if _, ok := retry.After(err); ok {
			reason = "rate_limited"
		}

		c.telemetry.RecordRetry(ctx, operation, reason)
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "retrying api request",
			"operation", operation, "attempt", attempt, "delay", delay.String(), "err", err)
	}

	return c.telemetry.InstrumentClientOperation(ctx, clientType, operation, func(ctx context.Context) error {
		return retry.Do(ctx, p, func(ctx context.Context) error {
			return c.do(ctx, operation, target, out)
		})
	})
}

func (c *Client) do(ctx context.Context, operation, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return &NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp, operation); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return &NetworkError{Operation: operation, APIMessage: "invalid JSON response", Err: err}
	}

	return nil
}

func (c *Client) resolve(pathOrURL string, query url.Values) (string, error) {
	target := pathOrURL
	if !strings.HasPrefix(pathOrURL, "http://") && !strings.HasPrefix(pathOrURL, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(pathOrURL, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid request url %q: %w", target, err)
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q[k] = vs
		}

		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
