package importer

import (
	"context"
	"errors"
	"testing"

	"spool/internal/logging"
	"spool/internal/services"
	"spool/internal/testsupport"
)

func TestImportInvokesTool(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()

	imp := New(cfg, logging.NewNop())
	var gotName string
	var gotArgs []string
	imp.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		return nil
	})

	if err := imp.Import(context.Background(), dir); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if gotName != cfg.Import.Tool {
		t.Errorf("tool = %q, want %q", gotName, cfg.Import.Tool)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "import" || gotArgs[1] != "-m" || gotArgs[2] != dir {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestImportCustomArgs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Import.Args = []string{"add", "--quiet"}
	dir := t.TempDir()

	imp := New(cfg, logging.NewNop())
	var gotArgs []string
	imp.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		return nil
	})

	if err := imp.Import(context.Background(), dir); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "add" || gotArgs[1] != "--quiet" || gotArgs[2] != dir {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestImportToolFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()

	imp := New(cfg, logging.NewNop())
	imp.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("exit status 2")
	})

	err := imp.Import(context.Background(), dir)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestImportMissingDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	imp := New(cfg, logging.NewNop())
	err := imp.Import(context.Background(), "/nonexistent/book")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportNoToolConfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Import.Tool = ""

	imp := New(cfg, logging.NewNop())
	err := imp.Import(context.Background(), t.TempDir())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
