package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, base string) string {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstaging_dir = %q\nlibrary_dir = %q\nstate_dir = %q\nlog_dir = %q\n\n[download]\nprogress_bars = false\n",
		filepath.Join(base, "staging"),
		filepath.Join(base, "library"),
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
	)
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusEmptyStore(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	out, err := executeCommand(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No books tracked") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")

	out, err := executeCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[paths]") {
		t.Errorf("sample config = %q", data)
	}

	// A second init without --overwrite refuses to clobber.
	if _, err := executeCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
}

func TestConfigValidate(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	out, err := executeCommand(t, "--config", configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration OK") {
		t.Errorf("output = %q", out)
	}
}

func TestResolveMediaID(t *testing.T) {
	// A bare id passes through.
	id, err := resolveMediaID("ABCD-1234")
	if err != nil || id != "ABCD-1234" {
		t.Fatalf("resolveMediaID = %q, %v", id, err)
	}

	// An ODM path resolves to its media id.
	odmPath := filepath.Join(t.TempDir(), "book.odm")
	odmXML := `<OverDriveMedia id="FEED-BEEF">
  <License><AcquisitionUrl>https://ofs.example.com/license</AcquisitionUrl></License>
  <Protocols><Protocol method="download" baseurl="https://ofs.example.com/books"/></Protocols>
  <Parts><Part number="1" name="Part 1" filename="X-Part01.mp3" duration="1:00"/></Parts>
</OverDriveMedia>`
	if err := os.WriteFile(odmPath, []byte(odmXML), 0o644); err != nil {
		t.Fatalf("write odm: %v", err)
	}
	id, err = resolveMediaID(odmPath)
	if err != nil {
		t.Fatalf("resolveMediaID(odm): %v", err)
	}
	if id != "FEED-BEEF" {
		t.Errorf("id = %q", id)
	}

	if _, err := resolveMediaID(""); err == nil {
		t.Fatal("expected error for empty argument")
	}
}

func TestDownloadRequiresArgs(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	if _, err := executeCommand(t, "--config", configPath, "download"); err == nil {
		t.Fatal("expected usage error without arguments")
	}
}
