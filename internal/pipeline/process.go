package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"spool/internal/assemble"
	"spool/internal/fileutil"
	"spool/internal/logging"
	"spool/internal/state"
)

// ProcessOptions control the post-assembly steps.
type ProcessOptions struct {
	// Import hands the finished book to the configured library-import tool.
	Import bool
	// Cleanup deletes the downloaded part files once assembly verified.
	Cleanup bool
}

// Process assembles the committed chapter plan into the final chaptered file
// and moves it into the library. Requires the extract stage to have
// committed.
func (o *Orchestrator) Process(ctx context.Context, mediaID string, opts ProcessOptions) error {
	unlock, err := o.lockBook(mediaID)
	if err != nil {
		return err
	}
	defer unlock()
	return o.processLocked(ctx, mediaID, opts)
}

func (o *Orchestrator) processLocked(ctx context.Context, mediaID string, opts ProcessOptions) error {
	book, err := o.store.GetByMediaID(ctx, mediaID)
	if err != nil {
		return err
	}
	if book == nil {
		return fmt.Errorf("%w: %q is not tracked, run download first", ErrPrerequisiteMissing, mediaID)
	}
	if !book.Status.AtLeast(state.StatusExtracted) {
		return fmt.Errorf("%w: chapters not extracted for %q (status %s)", ErrPrerequisiteMissing, mediaID, book.Status)
	}

	plan, err := loadPlan(book.StagingDir)
	if err != nil {
		return fmt.Errorf("%w: chapter plan unreadable for %q: %v", ErrPrerequisiteMissing, mediaID, err)
	}

	if !book.Status.AtLeast(state.StatusAssembled) {
		err = o.runStage(ctx, book, "assemble", state.StatusAssembling, state.StatusAssembled, func(ctx context.Context) error {
			outputName := o.libraryDirName(book) + ".m4b"
			result, err := o.asm.Assemble(ctx, assemble.Request{
				Title:            book.Title,
				Author:           book.Author,
				Parts:            planSources(plan),
				Timeline:         plan.timeline(),
				ExpectedDuration: plan.expectedDuration(),
				CoverPath:        plan.CoverPath,
				WorkDir:          book.StagingDir,
				OutputPath:       filepath.Join(book.StagingDir, outputName),
			})
			if err != nil {
				return err
			}

			libDir := filepath.Join(o.cfg.Paths.LibraryDir, o.libraryDirName(book))
			if err := os.MkdirAll(libDir, 0o755); err != nil {
				return fmt.Errorf("create library dir: %w", err)
			}
			finalPath := filepath.Join(libDir, outputName)
			if err := fileutil.MoveFile(result.OutputPath, finalPath); err != nil {
				return fmt.Errorf("move assembled file: %w", err)
			}
			if plan.CoverPath != "" {
				if err := fileutil.CopyFile(plan.CoverPath, filepath.Join(libDir, "folder.jpg")); err != nil {
					logging.WithContext(ctx, o.logger).Warn("cover copy failed", logging.Error(err))
				}
			}

			book.AssembledFile = finalPath
			book.LibraryDir = libDir
			return o.store.Update(ctx, book)
		})
		if err != nil {
			return err
		}
	}

	if opts.Import && !book.Status.AtLeast(state.StatusImported) {
		err = o.runStage(ctx, book, "import", state.StatusAssembled, state.StatusImported, func(ctx context.Context) error {
			return o.imp.Import(ctx, book.LibraryDir)
		})
		if err != nil {
			return err
		}
	}

	if opts.Cleanup {
		o.cleanupParts(ctx, plan)
	}
	return nil
}

func planSources(plan *assemblyPlan) []assemble.PartSource {
	sources := make([]assemble.PartSource, 0, len(plan.Parts))
	for _, part := range plan.Parts {
		sources = append(sources, assemble.PartSource{Index: part.Index, Path: part.Path})
	}
	return sources
}

// cleanupParts removes the raw downloads once the assembled file is safely
// in the library. The plan and license cache stay for bookkeeping.
func (o *Orchestrator) cleanupParts(ctx context.Context, plan *assemblyPlan) {
	log := logging.WithContext(ctx, o.logger)
	for _, part := range plan.Parts {
		if err := os.Remove(part.Path); err != nil && !os.IsNotExist(err) {
			log.Warn("cleanup failed", logging.String("path", part.Path), logging.Error(err))
		}
	}
	log.Info("staging parts removed", logging.Int("parts", len(plan.Parts)))
}
