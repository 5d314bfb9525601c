package license

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spool/internal/config"
	"spool/internal/fileutil"
	"spool/internal/logging"
	"spool/internal/odm"
	"spool/internal/services"
)

// ErrLicenseDenied marks an explicit rejection from the license server, for
// example when the title is no longer checked out. It is terminal and must
// not be retried.
var ErrLicenseDenied = errors.New("license denied")

// License is the playback authorization issued for a borrowed title. Raw is
// the opaque signed document the distribution service expects back verbatim
// in download requests.
type License struct {
	Raw        string
	ClientID   string
	AcquiredAt time.Time
}

// HTTPDoer describes the HTTP client used by the license client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client negotiates and caches playback licenses and performs early returns.
type Client struct {
	userAgent  string
	omcVersion string
	osVersion  string
	attempts   int
	backoff    time.Duration
	cacheDir   string
	httpClient HTTPDoer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBackoff overrides the initial retry backoff (doubled per attempt).
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// NewClient constructs a license client from configuration. Licenses are
// cached under the state directory, keyed by media id.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		userAgent:  cfg.OverDrive.UserAgent,
		omcVersion: cfg.OverDrive.OMCVersion,
		osVersion:  cfg.OverDrive.OSVersion,
		attempts:   cfg.OverDrive.RetryAttempts,
		backoff:    500 * time.Millisecond,
		cacheDir:   filepath.Join(cfg.Paths.StateDir, "licenses"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.OverDrive.RequestTimeout) * time.Second},
		logger:     logger.With(logging.String(logging.FieldComponent, "license")),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Acquire negotiates a playback license for the manifest's media id. A cached
// license for the same media id is reused rather than re-requested; the
// distribution service rejects repeat acquisitions for the same loan.
func (c *Client) Acquire(ctx context.Context, manifest *odm.Manifest) (*License, error) {
	if cached, ok := c.loadCached(manifest.MediaID); ok {
		c.logger.Info("reusing cached license", logging.String(logging.FieldMediaID, manifest.MediaID))
		return cached, nil
	}

	clientID := NewClientID()
	hash := ClientHash(clientID, c.omcVersion, c.osVersion)

	acquisitionURL, err := url.Parse(manifest.AcquisitionURL)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "license", "acquire", "invalid acquisition url", err)
	}
	query := acquisitionURL.Query()
	query.Set("MediaID", manifest.MediaID)
	query.Set("ClientID", clientID)
	query.Set("OMC", c.omcVersion)
	query.Set("OS", c.osVersion)
	query.Set("Hash", hash)
	acquisitionURL.RawQuery = query.Encode()

	body, err := c.getWithRetry(ctx, acquisitionURL.String(), nil, "acquire")
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(string(body))
	lic := &License{Raw: raw, ClientID: clientID, AcquiredAt: time.Now().UTC()}
	if signed := signedClientID(raw); signed != "" {
		// The server signs its own notion of the client id; downloads must
		// present that one.
		lic.ClientID = signed
	}

	if err := c.saveCached(manifest.MediaID, lic); err != nil {
		c.logger.Warn("failed to cache license", logging.Error(err))
	}
	c.logger.Info("license acquired", logging.String(logging.FieldMediaID, manifest.MediaID))
	return lic, nil
}

// Release invokes the early-return endpoint, freeing the patron's loan slot.
// Release is idempotent from the caller's perspective: a loan that is already
// returned (or expired) logs a warning and succeeds locally, since a held
// license costs the user a loan slot but corrupts nothing.
func (c *Client) Release(ctx context.Context, manifest *odm.Manifest) error {
	if strings.TrimSpace(manifest.EarlyReturnURL) == "" {
		c.logger.Warn("manifest has no early return url; nothing to release",
			logging.String(logging.FieldMediaID, manifest.MediaID))
		c.dropCached(manifest.MediaID)
		return nil
	}

	_, err := c.getWithRetry(ctx, manifest.EarlyReturnURL, nil, "release")
	c.dropCached(manifest.MediaID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("early return reported an error; treating the title as returned",
			logging.String(logging.FieldMediaID, manifest.MediaID),
			logging.Error(err))
		return nil
	}
	c.logger.Info("title returned", logging.String(logging.FieldMediaID, manifest.MediaID))
	return nil
}

// getWithRetry performs a GET with bounded exponential backoff on transient
// failures. A 4xx response is an explicit denial and is never retried.
func (c *Client) getWithRetry(ctx context.Context, rawURL string, headers map[string]string, operation string) ([]byte, error) {
	var lastErr error
	delay := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		body, retryable, err := c.getOnce(ctx, rawURL, headers)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("request failed; will retry",
			logging.String("operation", operation),
			logging.Int("attempt", attempt),
			logging.Error(err))
	}
	return nil, services.Wrap(services.ErrTransient, "license", operation,
		fmt.Sprintf("exhausted %d attempts", c.attempts), lastErr)
}

func (c *Client) getOnce(ctx context.Context, rawURL string, headers map[string]string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "license", "request", "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		detail := strings.TrimSpace(string(payload))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return nil, false, services.Wrap(services.ErrExternalTool, "license", "request",
			fmt.Sprintf("server rejected request with %d: %s", resp.StatusCode, detail), ErrLicenseDenied)
	case readErr != nil:
		return nil, true, fmt.Errorf("read response: %w", readErr)
	}
	return payload, false, nil
}

func (c *Client) cachePath(mediaID string) string {
	return filepath.Join(c.cacheDir, mediaID+".license")
}

func (c *Client) loadCached(mediaID string) (*License, bool) {
	data, err := os.ReadFile(c.cachePath(mediaID))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return nil, false
	}
	raw := strings.TrimSpace(string(data))
	lic := &License{Raw: raw, ClientID: signedClientID(raw)}
	if lic.ClientID == "" {
		return nil, false
	}
	return lic, true
}

func (c *Client) saveCached(mediaID string, lic *License) error {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(c.cachePath(mediaID), []byte(lic.Raw), 0o600)
}

func (c *Client) dropCached(mediaID string) {
	_ = os.Remove(c.cachePath(mediaID))
}

// signedClientID pulls the ClientID element out of the signed license
// document, tolerating namespace variations.
func signedClientID(raw string) string {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	decoder.Strict = false
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		if start, ok := token.(xml.StartElement); ok && start.Name.Local == "ClientID" {
			var value string
			if err := decoder.DecodeElement(&value, &start); err != nil {
				return ""
			}
			return strings.TrimSpace(value)
		}
	}
}
