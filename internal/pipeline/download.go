package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"spool/internal/logging"
	"spool/internal/odm"
	"spool/internal/state"
	"spool/internal/textutil"
)

// Download runs the first half of the pipeline for an ODM file: parse,
// acquire a license, and fetch every part into the book's staging dir. A
// rerun resumes where the previous invocation stopped.
func (o *Orchestrator) Download(ctx context.Context, odmPath string) (*state.Book, error) {
	absPath, err := filepath.Abs(odmPath)
	if err != nil {
		return nil, fmt.Errorf("resolve odm path: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read odm file: %w", err)
	}
	manifest, err := odm.Parse(raw)
	if err != nil {
		return nil, err
	}

	unlock, err := o.lockBook(manifest.MediaID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	book, err := o.store.NewBook(ctx, manifest.MediaID, absPath)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithMediaID(ctx, book.MediaID)
	log := logging.WithContext(ctx, o.logger)

	book.Title = manifest.Title
	book.Author = manifest.Author
	book.ODMPath = absPath
	if book.StagingDir == "" {
		book.StagingDir = filepath.Join(o.cfg.Paths.StagingDir, textutil.SanitizeFileName(manifest.MediaID))
	}
	if err := os.MkdirAll(book.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if err := o.store.Update(ctx, book); err != nil {
		return nil, err
	}

	if !book.Status.AtLeast(state.StatusParsed) || book.Status == state.StatusFailed {
		if err := o.store.SetStatus(ctx, book.MediaID, state.StatusParsed); err != nil {
			return nil, err
		}
		book.Status = state.StatusParsed
	}

	if book.Status.AtLeast(state.StatusDownloaded) {
		log.Info("parts already downloaded, nothing to do")
		return book, nil
	}

	// Acquire reuses the cached license when one is on disk, so rerunning
	// after an interruption does not consume another loan checkout.
	lic, err := o.licenses.Acquire(ctx, manifest)
	if err != nil {
		if markErr := o.store.MarkFailed(context.WithoutCancel(ctx), book.MediaID, err); markErr != nil {
			log.Error("failed to persist license failure", logging.Error(markErr))
		}
		return nil, err
	}
	if err := o.store.SetStatus(ctx, book.MediaID, state.StatusLicensed); err != nil {
		return nil, err
	}
	book.Status = state.StatusLicensed

	err = o.runStage(ctx, book, "download", state.StatusDownloading, state.StatusDownloaded, func(ctx context.Context) error {
		if _, err := o.parts.Fetch(ctx, manifest, lic, book.StagingDir); err != nil {
			return err
		}
		if manifest.CoverURL != "" {
			if _, coverErr := o.parts.FetchCover(ctx, manifest, book.StagingDir); coverErr != nil {
				logging.WithContext(ctx, o.logger).Warn("cover fetch failed", logging.Error(coverErr))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}
