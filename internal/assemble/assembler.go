package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"spool/internal/chapters"
	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/media/ffprobe"
)

// ErrAssemblyFailed marks a failed or unverifiable assembly run. The engine
// exited non-zero, produced no output, or produced a file whose duration
// deviates from the expected sum beyond the configured tolerance.
var ErrAssemblyFailed = errors.New("assembly failed")

type commandRunner func(ctx context.Context, name string, args ...string) error

type outputProber func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// PartSource is one input audio file in playback order.
type PartSource struct {
	Index int
	Path  string
}

// Request describes a complete assembly job.
type Request struct {
	Title    string
	Author   string
	Parts    []PartSource
	Timeline chapters.Timeline
	// ExpectedDuration is the sum of measured part durations, checked
	// against the produced container.
	ExpectedDuration time.Duration
	CoverPath        string // optional jpeg, embedded as attached_pic
	WorkDir          string // holds the generated concat list and metadata
	OutputPath       string
}

// Result reports the produced container.
type Result struct {
	OutputPath string
	Duration   time.Duration
}

// Assembler drives ffmpeg to concatenate audiobook parts into a single
// chaptered container, then verifies the result with ffprobe.
type Assembler struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
	probe  outputProber
}

// New constructs an assembler using the configured ffmpeg/ffprobe binaries.
func New(cfg *config.Config, logger *slog.Logger) *Assembler {
	return &Assembler{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "assembler")),
		run:    defaultCommandRunner,
		probe:  ffprobe.Inspect,
	}
}

// WithCommandRunner injects a custom engine runner for tests.
func (a *Assembler) WithCommandRunner(r commandRunner) {
	if a != nil && r != nil {
		a.run = r
	}
}

// WithOutputProber injects a custom output prober for tests.
func (a *Assembler) WithOutputProber(p outputProber) {
	if a != nil && p != nil {
		a.probe = p
	}
}

// Assemble concatenates the request's parts in index order into one container
// with the timeline embedded as standard chapter metadata.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Result, error) {
	if len(req.Parts) == 0 {
		return Result{}, fmt.Errorf("%w: no parts to assemble", ErrAssemblyFailed)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return Result{}, fmt.Errorf("%w: output path is required", ErrAssemblyFailed)
	}
	for _, part := range req.Parts {
		if _, err := os.Stat(part.Path); err != nil {
			return Result{}, fmt.Errorf("%w: part %d missing: %v", ErrAssemblyFailed, part.Index, err)
		}
	}

	listPath := filepath.Join(req.WorkDir, "concat.ffconcat")
	if err := writeConcatList(listPath, req.Parts); err != nil {
		return Result{}, fmt.Errorf("write concat list: %w", err)
	}
	metaPath := filepath.Join(req.WorkDir, "chapters.ffmetadata")
	if err := writeMetadata(metaPath, req); err != nil {
		return Result{}, fmt.Errorf("write chapter metadata: %w", err)
	}

	args := a.buildArgs(req, listPath, metaPath)
	a.logger.Info("assembling audiobook",
		logging.Int("parts", len(req.Parts)),
		logging.Int("chapters", len(req.Timeline)),
		logging.String("output", req.OutputPath))

	if err := a.run(ctx, a.cfg.Assembly.FFmpegBinary, args...); err != nil {
		_ = os.Remove(req.OutputPath)
		return Result{}, fmt.Errorf("%w: engine: %v", ErrAssemblyFailed, err)
	}
	if _, err := os.Stat(req.OutputPath); err != nil {
		return Result{}, fmt.Errorf("%w: engine produced no output: %v", ErrAssemblyFailed, err)
	}

	report, err := a.probe(ctx, a.cfg.Assembly.FFprobeBinary, req.OutputPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: verify output: %v", ErrAssemblyFailed, err)
	}
	if raw := report.RawJSON(); len(raw) > 0 {
		a.logger.Debug("output probe report", logging.String("ffprobe", string(raw)))
	}
	if report.AudioStreamCount() == 0 {
		return Result{}, fmt.Errorf("%w: output has no audio stream", ErrAssemblyFailed)
	}
	measured := report.Duration()
	tolerance := time.Duration(a.cfg.Assembly.DurationToleranceSeconds) * time.Second
	if deviation := (measured - req.ExpectedDuration).Abs(); deviation > tolerance {
		return Result{}, fmt.Errorf("%w: output duration %s deviates from expected %s by %s (tolerance %s)",
			ErrAssemblyFailed, measured, req.ExpectedDuration, deviation, tolerance)
	}

	a.logger.Info("assembly complete",
		logging.Duration("duration", measured),
		logging.String("size", humanize.Bytes(uint64(report.SizeBytes()))),
		logging.Int64("bitrate", report.BitRate()),
		logging.String("output", req.OutputPath))
	return Result{OutputPath: req.OutputPath, Duration: measured}, nil
}

func (a *Assembler) buildArgs(req Request, listPath, metaPath string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", metaPath,
	}
	coverInput := -1
	if req.CoverPath != "" {
		if _, err := os.Stat(req.CoverPath); err == nil {
			coverInput = 2
			args = append(args, "-i", req.CoverPath)
		}
	}
	args = append(args,
		"-map", "0:a",
		"-map_metadata", "1",
		"-c:a", "aac",
		"-b:a", a.cfg.Assembly.AudioBitrate,
	)
	if coverInput >= 0 {
		args = append(args,
			"-map", fmt.Sprintf("%d:v", coverInput),
			"-c:v", "copy",
			"-disposition:v:0", "attached_pic",
		)
	}
	args = append(args,
		"-metadata", "title="+req.Title,
		"-metadata", "artist="+req.Author,
		"-metadata", "album="+req.Title,
		"-f", "ipod",
		req.OutputPath,
	)
	return args
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
