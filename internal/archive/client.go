package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/domain/release"
	"github.com/oshokin/aur-wayback-updater/internal/logger"
	"github.com/oshokin/aur-wayback-updater/internal/version"
)

// captureClockSkew is subtracted from the request time when the archive does
// not say which capture a request landed on.
const captureClockSkew = time.Minute

// Client is a Wayback Machine client.
type Client struct {
	// httpClient performs every request.
	httpClient *http.Client
	// baseURL is the Wayback root serving /save/ and /web/.
	baseURL string
	// availabilityURL reports the closest snapshot of a URL.
	availabilityURL string
	// userAgent is sent with every request.
	userAgent string
	// callTimeout bounds a single HTTP call.
	callTimeout time.Duration
	// policy schedules availability polls.
	policy PollPolicy
	// clock drives the polling loop.
	clock Clock
}

// Option configures client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL sets the Wayback root, e.g. https://web.archive.org.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAvailabilityURL sets the availability API endpoint.
func WithAvailabilityURL(availabilityURL string) Option {
	return func(c *Client) {
		if availabilityURL != "" {
			c.availabilityURL = availabilityURL
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithCallTimeout sets a timeout for each HTTP call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithPollPolicy sets the polling schedule used by AwaitSnapshot.
func WithPollPolicy(policy PollPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a client talking to the public Wayback Machine unless overridden.
func New(opts ...Option) *Client {
	client := &Client{
		httpClient:      http.DefaultClient,
		baseURL:         config.DefaultArchiveBaseURL,
		availabilityURL: config.DefaultAvailabilityURL,
		userAgent:       version.UserAgent(),
		callTimeout:     config.DefaultTimeout,
		policy:          DefaultPollPolicy(),
		clock:           systemClock{},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// NewFromConfig creates a client from run settings.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(cfg.ArchiveBaseURL),
		WithAvailabilityURL(cfg.AvailabilityURL),
		WithCallTimeout(cfg.Timeout),
		WithPollPolicy(PollPolicy{
			InitialDelay: cfg.Poll.InitialDelay,
			Interval:     cfg.Poll.Interval,
			Multiplier:   cfg.Poll.Multiplier,
			MaxInterval:  cfg.Poll.MaxInterval,
			MaxAttempts:  cfg.Poll.MaxAttempts,
			MaxWait:      cfg.Poll.MaxWait,
		}),
	}

	return New(append(base, opts...)...)
}

// availabilityResponse is the body of the availability API.
type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest *closestSnapshot `json:"closest"`
	} `json:"archived_snapshots"`
}

// closestSnapshot describes the capture nearest to the requested timestamp.
type closestSnapshot struct {
	Available bool   `json:"available"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// RequestSnapshot asks the archive to capture sourceURL.
// The capture itself completes asynchronously; use AwaitSnapshot to wait for it.
func (c *Client) RequestSnapshot(ctx context.Context, sourceURL string) (*release.Job, error) {
	saveURL := c.baseURL + "/save/" + sourceURL

	logger.InfoKV(ctx, "Submitting archive request", "url", saveURL)

	requestedAt := c.clock.Now().UTC().Truncate(time.Second)

	response, err := c.do(ctx, http.MethodGet, saveURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveRequest, sourceURL, err)
	}

	defer drainAndClose(response)

	logger.InfoKV(ctx, "Archive request answered", "status", response.Status)

	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s: rate limited (%s)", ErrArchiveRequest, sourceURL, response.Status)
	case !isSuccess(response.StatusCode):
		return nil, fmt.Errorf("%w: %s: %s", ErrArchiveRequest, sourceURL, response.Status)
	}

	notBefore := requestedAt.Add(-captureClockSkew)

	// A synchronous capture, or a recent one the archive reuses, redirects
	// to its permanent URL; that capture is the one to wait for.
	if response.Request != nil && response.Request.URL != nil {
		landedURL := response.Request.URL.String()
		logger.DebugKV(ctx, "Archive request landed", "url", landedURL)

		if landed, _, parseErr := release.ParseArchivedURL(landedURL); parseErr == nil {
			notBefore = landed
		}
	}

	return &release.Job{
		RequestID:   sourceURL,
		SourceURL:   sourceURL,
		RequestedAt: requestedAt,
		NotBefore:   notBefore,
		Status:      release.JobPending,
	}, nil
}

// AwaitSnapshot polls the availability API until the job resolves or the
// poll policy gives up.
func (c *Client) AwaitSnapshot(ctx context.Context, job *release.Job) (*release.Snapshot, error) {
	start := c.clock.Now()

	for attempt := 0; ; attempt++ {
		delay, ok := c.policy.Next(attempt, c.clock.Now().Sub(start))
		if !ok {
			return nil, fmt.Errorf("%w: %s after %d polls in %s",
				ErrArchiveTimeout, job.SourceURL, attempt, c.clock.Now().Sub(start))
		}

		if delay > 0 {
			logger.DebugKV(ctx, "Waiting for archive snapshot", "delay", delay, "attempt", attempt+1)
		}

		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Polling archive availability", "attempt", attempt+1)

		snapshot, err := c.poll(ctx, job)
		if err != nil {
			return nil, err
		}

		if job.Status == release.JobReady {
			logger.InfoKV(ctx, "Archive snapshot ready",
				"url", snapshot.ArchivedURL, "version", snapshot.Version())

			return snapshot, nil
		}
	}
}

// poll performs one availability check and updates job.Status.
// Transient failures, unreadable answers and captures older than the request
// keep the job pending; only a failed capture or an unparseable snapshot URL
// is returned as an error.
func (c *Client) poll(ctx context.Context, job *release.Job) (*release.Snapshot, error) {
	query := url.Values{}
	query.Set("url", job.SourceURL)
	query.Set("timestamp", release.FormatVersion(c.clock.Now()))

	response, err := c.do(ctx, http.MethodGet, c.availabilityURL+"?"+query.Encode())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		logger.WarnKV(ctx, "Availability check failed, will retry", "error", err)

		return nil, nil
	}

	defer drainAndClose(response)

	if response.StatusCode != http.StatusOK {
		logger.WarnKV(ctx, "Availability check returned unexpected status, will retry", "status", response.Status)
		return nil, nil
	}

	var body availabilityResponse
	if err = json.NewDecoder(response.Body).Decode(&body); err != nil {
		logger.WarnKV(ctx, "Availability response is not readable yet, will retry", "error", err)
		return nil, nil
	}

	closest := body.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available {
		logger.Info(ctx, "No archive found yet")
		return nil, nil
	}

	if !isCaptureStatusOK(closest.Status) {
		job.Status = release.JobFailed

		return nil, fmt.Errorf("%w: %s: capture status %s", ErrArchiveJobFailed, job.SourceURL, closest.Status)
	}

	snapshot, err := c.snapshotFromURL(closest.URL)
	if err != nil {
		return nil, err
	}

	if snapshot.Timestamp.Before(job.NotBefore) {
		logger.InfoKV(ctx, "Closest capture predates the request, waiting for a newer one",
			"version", snapshot.Version(), "not_before", release.FormatVersion(job.NotBefore))

		return nil, nil
	}

	job.Status = release.JobReady

	return snapshot, nil
}

// LatestSnapshot resolves the newest existing capture of sourceURL by
// following the browse redirect. It does not request a new capture.
func (c *Client) LatestSnapshot(ctx context.Context, sourceURL string) (*release.Snapshot, error) {
	browseURL := c.baseURL + "/web/" + sourceURL

	logger.InfoKV(ctx, "Resolving latest existing snapshot", "url", browseURL)

	response, err := c.do(ctx, http.MethodHead, browseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveRequest, sourceURL, err)
	}

	defer drainAndClose(response)

	if !isSuccess(response.StatusCode) {
		return nil, fmt.Errorf("%w: %s: %s", ErrArchiveRequest, sourceURL, response.Status)
	}

	finalURL := browseURL
	if response.Request != nil && response.Request.URL != nil {
		finalURL = response.Request.URL.String()
	}

	logger.InfoKV(ctx, "Final URL after redirect", "url", finalURL)

	return c.snapshotFromURL(finalURL)
}

// FetchContent downloads the snapshot bytes.
func (c *Client) FetchContent(ctx context.Context, snapshot *release.Snapshot) ([]byte, error) {
	logger.InfoKV(ctx, "Downloading snapshot", "url", snapshot.ArchivedURL)

	response, err := c.do(ctx, http.MethodGet, snapshot.ArchivedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveDownload, snapshot.ArchivedURL, err)
	}

	defer drainAndClose(response)

	if !isSuccess(response.StatusCode) {
		return nil, fmt.Errorf("%w: %s: %s", ErrArchiveDownload, snapshot.ArchivedURL, response.Status)
	}

	// The archive redirects to the nearest capture when the exact one is gone;
	// those bytes would not match the version derived from the timestamp.
	if response.Request != nil && response.Request.URL != nil {
		served, _, parseErr := release.ParseArchivedURL(response.Request.URL.String())
		if parseErr == nil && !served.Equal(snapshot.Timestamp) {
			return nil, fmt.Errorf("%w: %s: archive served capture %s instead",
				ErrArchiveDownload, snapshot.ArchivedURL, release.FormatVersion(served))
		}
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrArchiveDownload, snapshot.ArchivedURL, err)
	}

	logger.InfoKV(ctx, "Snapshot downloaded", "bytes", len(data))

	return data, nil
}

// snapshotFromURL turns a timestamped capture URL into a canonical Snapshot
// rooted at the client's base URL.
func (c *Client) snapshotFromURL(archivedURL string) (*release.Snapshot, error) {
	timestamp, originalURL, err := release.ParseArchivedURL(archivedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveResponseParse, err)
	}

	return &release.Snapshot{
		ArchivedURL: release.SnapshotURL(c.baseURL, timestamp, originalURL),
		OriginalURL: originalURL,
		Timestamp:   timestamp,
	}, nil
}

// do sends a request bounded by the call timeout. The body of a successful
// response stays readable until the caller closes it.
func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	callCtx, cancel := c.callContext(ctx)

	request, err := http.NewRequestWithContext(callCtx, method, rawURL, http.NoBody)
	if err != nil {
		cancel()
		return nil, err
	}

	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		cancel()
		return nil, err
	}

	response.Body = &cancelOnClose{ReadCloser: response.Body, cancel: cancel}

	return response, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// cancelOnClose releases the call context together with the response body.
type cancelOnClose struct {
	io.ReadCloser

	cancel context.CancelFunc
}

// Close closes the body and cancels the call context.
func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}

// drainAndClose discards what is left of the body so the connection can be reused.
func drainAndClose(response *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 1<<16))
	_ = response.Body.Close()
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// isCaptureStatusOK reports whether the HTTP status recorded for a capture is usable.
// An empty status is treated as usable because older index entries omit it.
func isCaptureStatusOK(status string) bool {
	status = strings.TrimSpace(status)
	if status == "" || status == "-" {
		return true
	}

	return strings.HasPrefix(status, "2") || strings.HasPrefix(status, "3")
}

