package deps

import (
	"os"
	"path/filepath"
	"testing"

	"spool/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unconfigured", Command: " "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected unconfigured result: %#v", results[2])
	}
}

func TestForConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Import.Enabled = false
	reqs := ForConfig(cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected ffmpeg and ffprobe only, got %d", len(reqs))
	}

	cfg.Import.Enabled = true
	reqs = ForConfig(cfg)
	if len(reqs) != 3 || !reqs[2].Optional {
		t.Fatalf("expected optional import tool requirement, got %#v", reqs)
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []Status{
		{Name: "ffmpeg", Available: false},
		{Name: "import tool", Available: false, Optional: true},
		{Name: "ffprobe", Available: true},
	}
	missing := MissingRequired(statuses)
	if len(missing) != 1 || missing[0] != "ffmpeg" {
		t.Fatalf("missing = %v", missing)
	}
}
