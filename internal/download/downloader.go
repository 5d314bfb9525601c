package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"spool/internal/config"
	"spool/internal/fileutil"
	"spool/internal/license"
	"spool/internal/logging"
	"spool/internal/odm"
	"spool/internal/services"
)

// PartFetchError reports which part exhausted its retry budget. A single
// missing part aborts the whole book: chapter offsets for later parts would
// be meaningless without it.
type PartFetchError struct {
	Index int
	Err   error
}

func (e *PartFetchError) Error() string {
	return fmt.Sprintf("part %d fetch failed: %v", e.Index, e.Err)
}

func (e *PartFetchError) Unwrap() error { return e.Err }

// Part is a fully transferred, size-verified audio part on local disk.
type Part struct {
	Part   odm.Part
	Path   string
	Bytes  int64
	SHA256 string
}

// HTTPDoer describes the HTTP client used for part transfers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader fetches the per-part audio streams authorized by a license.
type Downloader struct {
	userAgent  string
	workers    int
	attempts   int
	backoff    time.Duration
	progress   bool
	httpClient HTTPDoer
	logger     *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(d *Downloader) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithBackoff overrides the initial per-part retry backoff.
func WithBackoff(delay time.Duration) Option {
	return func(d *Downloader) {
		if delay > 0 {
			d.backoff = delay
		}
	}
}

// NewDownloader constructs a part downloader from configuration.
func NewDownloader(cfg *config.Config, logger *slog.Logger, opts ...Option) *Downloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Downloader{
		userAgent:  cfg.OverDrive.UserAgent,
		workers:    cfg.Download.Workers,
		attempts:   cfg.Download.RetryAttempts,
		backoff:    time.Second,
		progress:   cfg.Download.ProgressBars,
		httpClient: &http.Client{Timeout: 0}, // parts can take minutes; rely on ctx
		logger:     logger.With(logging.String(logging.FieldComponent, "download")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch transfers every manifest part into destDir, returning one entry per
// part in index order regardless of transfer completion order. Parts already
// present on disk are not re-fetched; interrupted transfers resume from the
// confirmed byte offset when the server honors range requests.
func (d *Downloader) Fetch(ctx context.Context, manifest *odm.Manifest, lic *license.License, destDir string) ([]Part, error) {
	if lic == nil || strings.TrimSpace(lic.Raw) == "" {
		return nil, services.Wrap(services.ErrValidation, "download", "fetch", "no license held", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	results := make([]Part, len(manifest.Parts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.workers)

	for i, part := range manifest.Parts {
		group.Go(func() error {
			fetched, err := d.fetchPart(groupCtx, manifest, lic, part, destDir)
			if err != nil {
				return err
			}
			results[i] = fetched
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PartFileName derives the on-disk name for a part from its manifest
// filename: the segment after the last dash, e.g.
// "{GUID}Fer-Part03.mp3" becomes "Part03.mp3".
func PartFileName(part odm.Part) string {
	name := part.Filename
	if idx := strings.LastIndex(name, "-"); idx >= 0 && idx+1 < len(name) {
		name = name[idx+1:]
	}
	return name
}

func (d *Downloader) fetchPart(ctx context.Context, manifest *odm.Manifest, lic *license.License, part odm.Part, destDir string) (Part, error) {
	finalPath := filepath.Join(destDir, PartFileName(part))

	if size := fileutil.FileSize(finalPath); size > 0 {
		if part.Size > 0 && size != part.Size {
			d.logger.Warn("existing part does not match declared size; refetching",
				logging.Int(logging.FieldPart, part.Index),
				logging.Int64("have", size),
				logging.Int64("want", part.Size))
		} else {
			sum, err := fileutil.SHA256File(finalPath)
			if err != nil {
				return Part{}, fmt.Errorf("checksum existing part %d: %w", part.Index, err)
			}
			d.logger.Info("part already downloaded; skipping",
				logging.Int(logging.FieldPart, part.Index),
				logging.String("size", humanize.Bytes(uint64(size))))
			return Part{Part: part, Path: finalPath, Bytes: size, SHA256: sum}, nil
		}
	}

	sourceURL := manifest.DownloadBaseURL + "/" + url.PathEscape(part.Filename)
	partialPath := finalPath + ".partial"

	var lastErr error
	delay := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Part{}, ctx.Err()
			}
			delay *= 2
		}

		err := d.transfer(ctx, sourceURL, lic, part, partialPath)
		if err == nil {
			if err := os.Rename(partialPath, finalPath); err != nil {
				return Part{}, fmt.Errorf("finalize part %d: %w", part.Index, err)
			}
			size := fileutil.FileSize(finalPath)
			sum, err := fileutil.SHA256File(finalPath)
			if err != nil {
				return Part{}, fmt.Errorf("checksum part %d: %w", part.Index, err)
			}
			d.logger.Info("part downloaded",
				logging.Int(logging.FieldPart, part.Index),
				logging.String("size", humanize.Bytes(uint64(size))))
			return Part{Part: part, Path: finalPath, Bytes: size, SHA256: sum}, nil
		}
		if ctx.Err() != nil {
			return Part{}, ctx.Err()
		}
		if services.IsTerminal(err) {
			// Explicit server rejections will not improve on retry.
			return Part{}, &PartFetchError{Index: part.Index, Err: err}
		}
		var integrity *integrityError
		if errors.As(err, &integrity) {
			// Data-integrity failures are surfaced, never silently retried.
			return Part{}, &PartFetchError{Index: part.Index, Err: err}
		}
		lastErr = err
		d.logger.Warn("part transfer failed; will retry",
			logging.Int(logging.FieldPart, part.Index),
			logging.Int("attempt", attempt),
			logging.Error(err))
	}
	return Part{}, &PartFetchError{Index: part.Index, Err: services.Wrap(services.ErrTransient, "download", "fetch",
		fmt.Sprintf("exhausted %d attempts", d.attempts), lastErr)}
}

type integrityError struct {
	expected int64
	actual   int64
}

func (e *integrityError) Error() string {
	return fmt.Sprintf("size mismatch: server declared %d bytes, received %d", e.expected, e.actual)
}

// transfer streams one part into partialPath, resuming from the existing
// partial when possible.
func (d *Downloader) transfer(ctx context.Context, sourceURL string, lic *license.License, part odm.Part, partialPath string) error {
	offset := fileutil.FileSize(partialPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("License", lic.Raw)
	req.Header.Set("ClientID", lic.ClientID)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return services.Wrap(services.ErrTimeout, "download", "fetch",
				fmt.Sprintf("part %d request timed out", part.Index), err)
		}
		return err
	}
	defer resp.Body.Close()

	appendMode := false
	switch {
	case resp.StatusCode == http.StatusOK:
		// Full body; any partial progress is discarded.
		offset = 0
	case resp.StatusCode == http.StatusPartialContent:
		appendMode = true
		d.logger.Debug("resuming part from offset",
			logging.Int(logging.FieldPart, part.Index),
			logging.Int64("offset", offset))
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "download", "fetch",
			fmt.Sprintf("server has no part at %s", sourceURL), nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return services.Wrap(services.ErrValidation, "download", "fetch",
			fmt.Sprintf("server rejected part request with %d", resp.StatusCode), nil)
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	defer out.Close()

	var writer io.Writer = out
	bar := d.newProgressBar(resp.ContentLength, part)
	if bar != nil {
		writer = io.MultiWriter(out, bar)
		defer bar.Close()
	}

	written, err := io.Copy(writer, resp.Body)
	if err != nil {
		return fmt.Errorf("stream body: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	// For a 206 response ContentLength covers the remaining range only.
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return &integrityError{expected: resp.ContentLength, actual: written}
	}
	return nil
}

// FetchCover downloads the book's cover image into destDir. Cover art is
// cosmetic, so failures are reported but never fail the stage.
func (d *Downloader) FetchCover(ctx context.Context, manifest *odm.Manifest, destDir string) (string, error) {
	coverURL := strings.TrimSpace(manifest.CoverURL)
	if coverURL == "" {
		return "", nil
	}
	coverURL = strings.NewReplacer("{", "%7B", "}", "%7D").Replace(coverURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return "", fmt.Errorf("build cover request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cover fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read cover: %w", err)
	}
	coverPath := filepath.Join(destDir, "folder.jpg")
	if err := fileutil.WriteFileAtomic(coverPath, data, 0o644); err != nil {
		return "", err
	}
	return coverPath, nil
}
