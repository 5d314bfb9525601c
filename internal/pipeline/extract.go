package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"spool/internal/chapters"
	"spool/internal/config"
	"spool/internal/download"
	"spool/internal/logging"
	"spool/internal/markers"
	"spool/internal/odm"
	"spool/internal/services"
	"spool/internal/state"
	"spool/internal/textutil"
)

// Extract scans every downloaded part for embedded chapter marks, measures
// real encoded durations, and commits the resulting chapter plan. Requires
// the download stage to have committed.
func (o *Orchestrator) Extract(ctx context.Context, mediaID string) error {
	unlock, err := o.lockBook(mediaID)
	if err != nil {
		return err
	}
	defer unlock()
	return o.extractLocked(ctx, mediaID)
}

func (o *Orchestrator) extractLocked(ctx context.Context, mediaID string) error {
	book, err := o.store.GetByMediaID(ctx, mediaID)
	if err != nil {
		return err
	}
	if book == nil {
		return fmt.Errorf("%w: %q is not tracked, run download first", ErrPrerequisiteMissing, mediaID)
	}
	if !book.Status.AtLeast(state.StatusDownloaded) {
		return fmt.Errorf("%w: parts not downloaded for %q (status %s)", ErrPrerequisiteMissing, mediaID, book.Status)
	}
	if book.Status.AtLeast(state.StatusExtracted) {
		logging.WithContext(logging.WithMediaID(ctx, mediaID), o.logger).
			Info("chapter plan already committed, skipping extraction")
		return nil
	}

	manifest, err := o.loadManifest(book)
	if err != nil {
		return err
	}

	return o.runStage(ctx, book, "extract", state.StatusExtracting, state.StatusExtracted, func(ctx context.Context) error {
		plan, err := o.buildPlan(ctx, book, manifest)
		if err != nil {
			return err
		}
		return savePlan(book.StagingDir, plan)
	})
}

type partScan struct {
	timing chapters.PartTiming
	path   string
	marks  []markers.Mark
	err    error
}

func (o *Orchestrator) buildPlan(ctx context.Context, book *state.Book, manifest *odm.Manifest) (*assemblyPlan, error) {
	log := logging.WithContext(ctx, o.logger)

	scans := make([]partScan, len(manifest.Parts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.Download.Workers)
	var mu sync.Mutex
	var corrupt error

	for i, part := range manifest.Parts {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			path := filepath.Join(book.StagingDir, download.PartFileName(part))
			if _, err := os.Stat(path); err != nil {
				return services.Wrap(services.ErrNotFound, "extract", "scan",
					fmt.Sprintf("part %d file missing, rerun download", part.Index), err)
			}

			duration, err := o.measure(path)
			if err != nil {
				return fmt.Errorf("measure part %d: %w", part.Index, err)
			}
			scan := partScan{
				timing: chapters.PartTiming{Index: part.Index, Duration: duration},
				path:   path,
			}

			marks, err := o.extract(path, part.Index)
			if err != nil {
				if _, ok := markers.IsCorrupt(err); !ok {
					return err
				}
				// Corrupt chapter data is a policy decision, not an
				// immediate abort.
				mu.Lock()
				if corrupt == nil {
					corrupt = err
				}
				mu.Unlock()
			}
			scan.marks = marks
			scans[i] = scan
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	timings := make([]chapters.PartTiming, len(scans))
	marksByPart := make(map[int][]markers.Mark, len(scans))
	plan := &assemblyPlan{
		Title:  book.Title,
		Author: book.Author,
	}
	for i, scan := range scans {
		timings[i] = scan.timing
		marksByPart[scan.timing.Index] = scan.marks
		plan.Parts = append(plan.Parts, planPart{
			Index:      scan.timing.Index,
			Path:       scan.path,
			DurationMs: scan.timing.Duration.Milliseconds(),
		})
	}

	var timeline chapters.Timeline
	if corrupt != nil {
		switch o.cfg.Assembly.ChapterFallback {
		case config.ChapterFallbackPerPart:
			log.Warn("chapter data corrupt, falling back to one chapter per part", logging.Error(corrupt))
			timeline = chapters.FallbackTimeline(timings, partNames(manifest))
			plan.Fallback = true
			plan.Warnings = append(plan.Warnings, corrupt.Error())
		default:
			return nil, corrupt
		}
	} else {
		var planWarnings []chapters.Warning
		timeline, planWarnings = chapters.Plan(timings, marksByPart)
		for _, warning := range planWarnings {
			log.Warn("dropped chapter mark", logging.Int(logging.FieldPart, warning.PartIndex), logging.String("reason", warning.Message))
			plan.Warnings = append(plan.Warnings, warning.String())
		}
	}

	for _, chapter := range timeline {
		plan.Chapters = append(plan.Chapters, planChapter{
			Title:   chapter.Title,
			StartMs: chapter.Start.Milliseconds(),
		})
	}
	plan.ExpectedMs = chapters.TotalDuration(timings).Milliseconds()

	if cover := filepath.Join(book.StagingDir, "folder.jpg"); fileExists(cover) {
		plan.CoverPath = cover
	}
	log.Info("chapter plan built",
		logging.Int("parts", len(plan.Parts)),
		logging.Int("chapters", len(plan.Chapters)),
		logging.Bool("fallback", plan.Fallback))
	return plan, nil
}

// partNames maps part index to the manifest's declared display name, so a
// fallback timeline keeps the distributor's own part titles.
func partNames(manifest *odm.Manifest) map[int]string {
	names := make(map[int]string, len(manifest.Parts))
	for _, part := range manifest.Parts {
		if name := textutil.TitleCase(part.Name); name != "" {
			names[part.Index] = name
		}
	}
	return names
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
