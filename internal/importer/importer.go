// Package importer hands finished audiobooks to an external library-import
// tool. The tool's exit status is the only contract; its internal tagging
// and move behavior is its own business.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/services"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// Importer invokes the configured import tool against an assembled book's
// library directory.
type Importer struct {
	cfg    *config.Config
	logger *slog.Logger
	run    commandRunner
}

func New(cfg *config.Config, logger *slog.Logger) *Importer {
	return &Importer{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "importer")),
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner injects a custom tool runner for tests.
func (i *Importer) WithCommandRunner(r commandRunner) {
	if i != nil && r != nil {
		i.run = r
	}
}

// Import runs the import tool on the directory holding the assembled file.
func (i *Importer) Import(ctx context.Context, bookDir string) error {
	tool := strings.TrimSpace(i.cfg.Import.Tool)
	if tool == "" {
		return services.Wrap(services.ErrConfiguration, "import", "import", "no import tool configured", nil)
	}
	if _, err := os.Stat(bookDir); err != nil {
		return services.Wrap(services.ErrNotFound, "import", "import", "book directory missing", err)
	}

	args := append(append([]string{}, i.cfg.Import.Args...), bookDir)
	i.logger.Info("importing into library",
		logging.String("tool", tool),
		logging.String("args", strings.Join(args, " ")),
		logging.String("dir", bookDir))
	if err := i.run(ctx, tool, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "import", "import",
			fmt.Sprintf("%s import failed", tool), err)
	}
	return nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
