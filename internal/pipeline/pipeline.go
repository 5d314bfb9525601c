package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"spool/internal/assemble"
	"spool/internal/config"
	"spool/internal/download"
	"spool/internal/importer"
	"spool/internal/license"
	"spool/internal/logging"
	"spool/internal/markers"
	"spool/internal/odm"
	"spool/internal/state"
	"spool/internal/textutil"
)

// ErrPrerequisiteMissing reports a stage invoked before its prerequisite
// stage committed. Rerun the earlier stage first.
var ErrPrerequisiteMissing = errors.New("prerequisite stage not committed")

// ErrBookBusy reports a second pipeline invocation for a book that already
// has an active run.
var ErrBookBusy = errors.New("another run is active for this book")

type licenseService interface {
	Acquire(ctx context.Context, manifest *odm.Manifest) (*license.License, error)
	Release(ctx context.Context, manifest *odm.Manifest) error
}

type partFetcher interface {
	Fetch(ctx context.Context, manifest *odm.Manifest, lic *license.License, destDir string) ([]download.Part, error)
	FetchCover(ctx context.Context, manifest *odm.Manifest, destDir string) (string, error)
}

type audioAssembler interface {
	Assemble(ctx context.Context, req assemble.Request) (assemble.Result, error)
}

type libraryImporter interface {
	Import(ctx context.Context, bookDir string) error
}

// Orchestrator sequences the pipeline stages for one book at a time and
// commits each stage to the state store as it completes.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *state.Store
	licenses licenseService
	parts    partFetcher
	asm      audioAssembler
	imp      libraryImporter

	extract func(path string, partIndex int) ([]markers.Mark, error)
	measure func(path string) (time.Duration, error)
}

// New wires an orchestrator with the default component implementations.
func New(cfg *config.Config, logger *slog.Logger, store *state.Store) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "pipeline")),
		store:    store,
		licenses: license.NewClient(cfg, logger),
		parts:    download.NewDownloader(cfg, logger),
		asm:      assemble.New(cfg, logger),
		imp:      importer.New(cfg, logger),
		extract:  markers.Extract,
		measure:  markers.Measure,
	}
}

// lockBook takes the per-book flock so concurrent invocations cannot
// double-download or double-release.
func (o *Orchestrator) lockBook(mediaID string) (func(), error) {
	lockDir := filepath.Join(o.cfg.Paths.StateDir, "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(filepath.Join(lockDir, textutil.SanitizeFileName(mediaID)+".lock"))
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire book lock: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", ErrBookBusy, mediaID)
	}
	return func() { _ = lock.Unlock() }, nil
}

// runStage executes one stage with processing/done status bookkeeping. The
// processing status is committed before the work starts so an interrupted
// run is visible and recoverable; the done status commits only on success.
// Cancellation leaves the processing status in place for recovery instead of
// marking the book failed.
func (o *Orchestrator) runStage(ctx context.Context, book *state.Book, name string, processing, done state.Status, fn func(context.Context) error) error {
	ctx = logging.WithStage(logging.WithMediaID(ctx, book.MediaID), name)
	log := logging.WithContext(ctx, o.logger)

	log.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := o.store.SetStatus(ctx, book.MediaID, processing); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	book.Status = processing

	if err := fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("stage interrupted", logging.Error(err))
			return err
		}
		log.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Error(err))
		if markErr := o.store.MarkFailed(context.WithoutCancel(ctx), book.MediaID, err); markErr != nil {
			log.Error("failed to persist stage failure", logging.Error(markErr))
		}
		book.Status = state.StatusFailed
		return err
	}

	if err := o.store.SetStatus(ctx, book.MediaID, done); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}
	book.Status = done
	log.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("status", string(done)))
	return nil
}

// Recover rolls back books stranded mid-stage by a previous interrupted run.
func (o *Orchestrator) Recover(ctx context.Context) error {
	recovered, err := o.store.RecoverProcessing(ctx)
	if err != nil {
		return fmt.Errorf("recover stranded books: %w", err)
	}
	if recovered > 0 {
		o.logger.Info("rolled back interrupted stages", logging.Int64("books", recovered))
	}
	return nil
}

func (o *Orchestrator) loadManifest(book *state.Book) (*odm.Manifest, error) {
	raw, err := os.ReadFile(book.ODMPath)
	if err != nil {
		return nil, fmt.Errorf("read odm file: %w", err)
	}
	return odm.Parse(raw)
}

// libraryDirName applies the configured naming template.
func (o *Orchestrator) libraryDirName(book *state.Book) string {
	name := o.cfg.Library.DirFormat
	name = strings.ReplaceAll(name, "@AUTHOR", book.Author)
	name = strings.ReplaceAll(name, "@TITLE", book.Title)
	return textutil.SanitizeFileName(name)
}
