package pipeline

import (
	"context"
	"fmt"

	"spool/internal/logging"
	"spool/internal/state"
)

// ExtractAndProcess runs the extract stage and continues straight into
// assembly, the usual flow after a completed download.
func (o *Orchestrator) ExtractAndProcess(ctx context.Context, mediaID string, opts ProcessOptions) error {
	unlock, err := o.lockBook(mediaID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := o.extractLocked(ctx, mediaID); err != nil {
		return err
	}
	return o.processLocked(ctx, mediaID, opts)
}

// Return invokes the early-return endpoint for a tracked book and records
// the returned state. Safe to call repeatedly; a failed remote return is a
// warning, not an error.
func (o *Orchestrator) Return(ctx context.Context, mediaID string) error {
	unlock, err := o.lockBook(mediaID)
	if err != nil {
		return err
	}
	defer unlock()

	book, err := o.store.GetByMediaID(ctx, mediaID)
	if err != nil {
		return err
	}
	if book == nil {
		return fmt.Errorf("%w: %q is not tracked", ErrPrerequisiteMissing, mediaID)
	}

	manifest, err := o.loadManifest(book)
	if err != nil {
		return err
	}

	ctx = logging.WithMediaID(ctx, mediaID)
	if err := o.licenses.Release(ctx, manifest); err != nil {
		return err
	}
	if err := o.store.SetStatus(ctx, mediaID, state.StatusReturned); err != nil {
		return err
	}
	logging.WithContext(ctx, o.logger).Info("book returned")
	return nil
}
