package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spool/internal/chapters"
	"spool/internal/fileutil"
)

// planFileName is the file that carries the computed chapter plan from the
// extract stage to the assemble stage inside a book's staging dir.
const planFileName = "plan.json"

type planPart struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	DurationMs int64  `json:"duration_ms"`
}

type planChapter struct {
	Title   string `json:"title"`
	StartMs int64  `json:"start_ms"`
}

type assemblyPlan struct {
	Title      string        `json:"title"`
	Author     string        `json:"author"`
	CoverPath  string        `json:"cover_path,omitempty"`
	Parts      []planPart    `json:"parts"`
	Chapters   []planChapter `json:"chapters"`
	ExpectedMs int64         `json:"expected_ms"`
	Fallback   bool          `json:"fallback,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

func (p *assemblyPlan) timeline() chapters.Timeline {
	timeline := make(chapters.Timeline, 0, len(p.Chapters))
	for _, chapter := range p.Chapters {
		timeline = append(timeline, chapters.Chapter{
			Title: chapter.Title,
			Start: time.Duration(chapter.StartMs) * time.Millisecond,
		})
	}
	return timeline
}

func (p *assemblyPlan) expectedDuration() time.Duration {
	return time.Duration(p.ExpectedMs) * time.Millisecond
}

func savePlan(stagingDir string, plan *assemblyPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	return fileutil.WriteFileAtomic(filepath.Join(stagingDir, planFileName), data, 0o644)
}

func loadPlan(stagingDir string) (*assemblyPlan, error) {
	data, err := os.ReadFile(filepath.Join(stagingDir, planFileName))
	if err != nil {
		return nil, err
	}
	var plan assemblyPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}
