package assemble

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"spool/internal/chapters"
	"spool/internal/logging"
	"spool/internal/media/ffprobe"
	"spool/internal/testsupport"
)

// audioProbe fakes an ffprobe report for a single-audio-stream container.
func audioProbe(d time.Duration) ffprobe.Result {
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "audio"}},
		Format:  ffprobe.Format{Duration: strconv.FormatFloat(d.Seconds(), 'f', 3, 64)},
	}
}

func writeFakePart(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write part: %v", err)
	}
	return path
}

func testRequest(t *testing.T, dir string) Request {
	t.Helper()
	return Request{
		Title:  "A Long Walk",
		Author: "Jane Doe",
		Parts: []PartSource{
			{Index: 1, Path: writeFakePart(t, dir, "part01.mp3")},
			{Index: 2, Path: writeFakePart(t, dir, "part02.mp3")},
		},
		Timeline: chapters.Timeline{
			{Title: "Chapter 1", Start: 0},
			{Title: "Chapter 2", Start: 100 * time.Second},
		},
		ExpectedDuration: 220 * time.Second,
		WorkDir:          dir,
		OutputPath:       filepath.Join(dir, "out.m4b"),
	}
}

func TestAssembleSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)

	asm := New(cfg, logging.NewNop())
	var gotArgs []string
	asm.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		return os.WriteFile(req.OutputPath, []byte("m4b"), 0o644)
	})
	asm.WithOutputProber(func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		return audioProbe(220*time.Second + 500*time.Millisecond), nil
	})

	result, err := asm.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.OutputPath != req.OutputPath {
		t.Errorf("output path = %q", result.OutputPath)
	}

	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "-f concat") || !strings.Contains(joined, "-f ipod") {
		t.Errorf("engine args missing concat/ipod: %s", joined)
	}

	list, err := os.ReadFile(filepath.Join(dir, "concat.ffconcat"))
	if err != nil {
		t.Fatalf("read concat list: %v", err)
	}
	if !strings.Contains(string(list), "part01.mp3") || !strings.Contains(string(list), "part02.mp3") {
		t.Errorf("concat list = %q", list)
	}

	meta, err := os.ReadFile(filepath.Join(dir, "chapters.ffmetadata"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	text := string(meta)
	if !strings.HasPrefix(text, ";FFMETADATA1") {
		t.Errorf("metadata missing header: %q", text)
	}
	if strings.Count(text, "[CHAPTER]") != 2 {
		t.Errorf("metadata should hold 2 chapters: %q", text)
	}
	if !strings.Contains(text, "START=100000") || !strings.Contains(text, "END=220000") {
		t.Errorf("chapter bounds wrong: %q", text)
	}
}

func TestAssembleEngineFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)

	asm := New(cfg, logging.NewNop())
	asm.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("exit status 1")
	})

	_, err := asm.Assemble(context.Background(), req)
	if !errors.Is(err, ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed, got %v", err)
	}
}

func TestAssembleNoOutputProduced(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)

	asm := New(cfg, logging.NewNop())
	asm.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return nil // engine "succeeds" without writing the file
	})

	_, err := asm.Assemble(context.Background(), req)
	if !errors.Is(err, ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed, got %v", err)
	}
}

func TestAssembleRejectsAudiolessOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)

	asm := New(cfg, logging.NewNop())
	asm.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return os.WriteFile(req.OutputPath, []byte("m4b"), 0o644)
	})
	asm.WithOutputProber(func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		report := audioProbe(req.ExpectedDuration)
		report.Streams = nil
		return report, nil
	})

	_, err := asm.Assemble(context.Background(), req)
	if !errors.Is(err, ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "no audio stream") {
		t.Errorf("error should report the missing stream: %v", err)
	}
}

func TestAssembleDurationDeviation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)

	asm := New(cfg, logging.NewNop())
	asm.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return os.WriteFile(req.OutputPath, []byte("m4b"), 0o644)
	})
	// Half the audio is missing, as if a part was dropped.
	asm.WithOutputProber(func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		return audioProbe(110 * time.Second), nil
	})

	_, err := asm.Assemble(context.Background(), req)
	if !errors.Is(err, ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "deviates") {
		t.Errorf("error should report the deviation: %v", err)
	}
}

func TestAssembleEmbedsCover(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)
	req.CoverPath = filepath.Join(dir, "folder.jpg")
	if err := os.WriteFile(req.CoverPath, []byte("jpg"), 0o644); err != nil {
		t.Fatalf("write cover: %v", err)
	}

	asm := New(cfg, logging.NewNop())
	var gotArgs []string
	asm.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		return os.WriteFile(req.OutputPath, []byte("m4b"), 0o644)
	})
	asm.WithOutputProber(func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		return audioProbe(req.ExpectedDuration), nil
	})

	if _, err := asm.Assemble(context.Background(), req); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "attached_pic") || !strings.Contains(joined, req.CoverPath) {
		t.Errorf("cover args missing: %s", joined)
	}
}

func TestAssembleRejectsMissingPart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	req := testRequest(t, dir)
	req.Parts = append(req.Parts, PartSource{Index: 3, Path: filepath.Join(dir, "gone.mp3")})

	asm := New(cfg, logging.NewNop())
	_, err := asm.Assemble(context.Background(), req)
	if !errors.Is(err, ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed, got %v", err)
	}
}

func TestEscapeMetadata(t *testing.T) {
	got := escapeMetadata(`Spies; Lies = #1\`)
	want := `Spies\; Lies \= \#1\\`
	if got != want {
		t.Errorf("escapeMetadata = %q, want %q", got, want)
	}
}
