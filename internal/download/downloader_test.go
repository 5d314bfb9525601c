package download_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"spool/internal/download"
	"spool/internal/license"
	"spool/internal/odm"
	"spool/internal/services"
	"spool/internal/testsupport"
)

func partManifest(baseURL string, count int) *odm.Manifest {
	manifest := &odm.Manifest{
		MediaID:         "MEDIA-1",
		Title:           "Book",
		Author:          "Author",
		AcquisitionURL:  "https://example.com/acquire",
		DownloadBaseURL: baseURL,
	}
	for i := 1; i <= count; i++ {
		manifest.Parts = append(manifest.Parts, odm.Part{
			Index:    i,
			Name:     fmt.Sprintf("Part %d", i),
			Filename: fmt.Sprintf("{FEED}Fer-Part%02d.mp3", i),
			Duration: time.Minute,
		})
	}
	return manifest
}

func testLicense() *license.License {
	return &license.License{Raw: "<License>signed</License>", ClientID: "CLIENT-1"}
}

type partServer struct {
	mu       sync.Mutex
	payloads map[string][]byte
	requests map[string]int
	ranges   bool
}

func newPartServer(ranges bool) *partServer {
	return &partServer{payloads: make(map[string][]byte), requests: make(map[string]int), ranges: ranges}
}

func (s *partServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("License") == "" || r.Header.Get("ClientID") == "" {
			t.Errorf("missing auth headers on %s", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusForbidden)
			return
		}
		name := download.PartFileName(odm.Part{Filename: filepath.Base(r.URL.Path)})
		s.mu.Lock()
		payload, ok := s.payloads[name]
		s.requests[name]++
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}

		if s.ranges {
			if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
				offset, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"), 10, 64)
				if err == nil && offset > 0 && offset < int64(len(payload)) {
					w.Header().Set("Content-Length", strconv.Itoa(len(payload)-int(offset)))
					w.WriteHeader(http.StatusPartialContent)
					w.Write(payload[offset:])
					return
				}
			}
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}
}

func (s *partServer) set(name string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[name] = payload
}

func (s *partServer) hits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[name]
}

func TestFetchReturnsPartsInIndexOrder(t *testing.T) {
	backend := newPartServer(true)
	for i := 1; i <= 4; i++ {
		backend.set(fmt.Sprintf("Part%02d.mp3", i), []byte(strings.Repeat("x", i*100)))
	}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Download.Workers = 4
	d := download.NewDownloader(cfg, nil)

	dest := t.TempDir()
	parts, err := d.Fetch(context.Background(), partManifest(server.URL, 4), testLicense(), dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if part.Part.Index != i+1 {
			t.Errorf("position %d holds part %d", i, part.Part.Index)
		}
		if part.Bytes != int64((i+1)*100) {
			t.Errorf("part %d bytes = %d", part.Part.Index, part.Bytes)
		}
		if part.SHA256 == "" {
			t.Errorf("part %d missing checksum", part.Part.Index)
		}
	}
}

func TestFetchSkipsCompletedParts(t *testing.T) {
	backend := newPartServer(true)
	backend.set("Part01.mp3", []byte("part one bytes"))
	backend.set("Part02.mp3", []byte("part two bytes"))
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	d := download.NewDownloader(cfg, nil)
	dest := t.TempDir()

	// Part 1 finished in an earlier run.
	if err := os.WriteFile(filepath.Join(dest, "Part01.mp3"), []byte("part one bytes"), 0o644); err != nil {
		t.Fatalf("seed part: %v", err)
	}

	parts, err := d.Fetch(context.Background(), partManifest(server.URL, 2), testLicense(), dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if backend.hits("Part01.mp3") != 0 {
		t.Fatalf("completed part was re-fetched %d times", backend.hits("Part01.mp3"))
	}
	if backend.hits("Part02.mp3") != 1 {
		t.Fatalf("expected exactly one fetch of part 2, got %d", backend.hits("Part02.mp3"))
	}
	if parts[0].SHA256 == parts[1].SHA256 {
		t.Fatal("distinct parts should have distinct checksums")
	}
}

func TestFetchResumesFromPartial(t *testing.T) {
	payload := []byte(strings.Repeat("resume-me.", 100))
	backend := newPartServer(true)
	backend.set("Part01.mp3", payload)
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	d := download.NewDownloader(cfg, nil)
	dest := t.TempDir()

	// Simulate an interrupted transfer: first 400 bytes already on disk.
	if err := os.WriteFile(filepath.Join(dest, "Part01.mp3.partial"), payload[:400], 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	parts, err := d.Fetch(context.Background(), partManifest(server.URL, 1), testLicense(), dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if parts[0].Bytes != int64(len(payload)) {
		t.Fatalf("resumed part size = %d, want %d", parts[0].Bytes, len(payload))
	}
	data, err := os.ReadFile(parts[0].Path)
	if err != nil {
		t.Fatalf("read assembled part: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("resumed content does not match source payload")
	}
}

func TestFetchRestartsWhenRangesUnsupported(t *testing.T) {
	payload := []byte(strings.Repeat("norange.", 64))
	backend := newPartServer(false)
	backend.set("Part01.mp3", payload)
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	d := download.NewDownloader(cfg, nil)
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "Part01.mp3.partial"), payload[:100], 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	parts, err := d.Fetch(context.Background(), partManifest(server.URL, 1), testLicense(), dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, _ := os.ReadFile(parts[0].Path)
	if string(data) != string(payload) {
		t.Fatal("restarted transfer produced wrong content")
	}
}

func TestFetchFailsWithPartIndexAfterRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Download.RetryAttempts = 2
	d := download.NewDownloader(cfg, nil, download.WithBackoff(time.Millisecond))

	_, err := d.Fetch(context.Background(), partManifest(server.URL, 1), testLicense(), t.TempDir())
	var fetchErr *download.PartFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected PartFetchError, got %v", err)
	}
	if fetchErr.Index != 1 {
		t.Fatalf("wrong part index: %d", fetchErr.Index)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestFetchRefetchesTruncatedLeftover(t *testing.T) {
	backend := newPartServer(true)
	payload := []byte(strings.Repeat("y", 400))
	backend.set("Part01.mp3", payload)
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	d := download.NewDownloader(cfg, nil)

	manifest := partManifest(server.URL, 1)
	manifest.Parts[0].Size = int64(len(payload))

	// A previous run left a final file shorter than the declared filesize.
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "Part01.mp3"), payload[:100], 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	parts, err := d.Fetch(context.Background(), manifest, testLicense(), dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if backend.hits("Part01.mp3") != 1 {
		t.Fatalf("expected refetch, got %d requests", backend.hits("Part01.mp3"))
	}
	if parts[0].Bytes != int64(len(payload)) {
		t.Fatalf("final size = %d, want %d", parts[0].Bytes, len(payload))
	}
}

func TestFetchDoesNotRetryMissingPart(t *testing.T) {
	backend := newPartServer(false)
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Download.RetryAttempts = 3
	d := download.NewDownloader(cfg, nil, download.WithBackoff(time.Millisecond))

	_, err := d.Fetch(context.Background(), partManifest(server.URL, 1), testLicense(), t.TempDir())
	var fetchErr *download.PartFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected PartFetchError, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
	if hits := backend.hits("Part01.mp3"); hits != 1 {
		t.Fatalf("404 should not be retried; got %d requests", hits)
	}
}

func TestFetchRequiresLicense(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := download.NewDownloader(cfg, nil)
	_, err := d.Fetch(context.Background(), partManifest("https://example.com", 1), &license.License{}, t.TempDir())
	if err == nil {
		t.Fatal("expected error without license")
	}
}

func TestPartFileName(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"{ABC-123}Fer-Part01.mp3", "Part01.mp3"},
		{"plain.mp3", "plain.mp3"},
		{"a-b-c-Part12.mp3", "Part12.mp3"},
	}
	for _, tc := range cases {
		part := odm.Part{Filename: tc.filename}
		if got := download.PartFileName(part); got != tc.want {
			t.Errorf("PartFileName(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestFetchCover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	d := download.NewDownloader(cfg, nil)
	manifest := partManifest(server.URL, 1)
	manifest.CoverURL = server.URL + "/{ABC}/cover.jpg"

	dest := t.TempDir()
	path, err := d.FetchCover(context.Background(), manifest, dest)
	if err != nil {
		t.Fatalf("FetchCover: %v", err)
	}
	if filepath.Base(path) != "folder.jpg" {
		t.Fatalf("unexpected cover path %q", path)
	}
}
