package license_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"spool/internal/license"
	"spool/internal/odm"
	"spool/internal/testsupport"
)

const licenseBody = `<License xmlns="http://license.overdrive.com/2008/03/License">
  <SignedInfo Version="1">
    <ContentID>A1B2C3D4</ContentID>
    <ClientID>11111111-2222-3333-4444-555555555555</ClientID>
  </SignedInfo>
  <Signature>c2lnbmF0dXJl</Signature>
</License>`

func testManifest(acquisitionURL, returnURL string) *odm.Manifest {
	return &odm.Manifest{
		MediaID:         "MEDIA-1",
		Title:           "Test Book",
		Author:          "Author",
		AcquisitionURL:  acquisitionURL,
		EarlyReturnURL:  returnURL,
		DownloadBaseURL: "https://example.com/books",
		Parts:           []odm.Part{{Index: 1, Filename: "p.mp3", Duration: time.Minute}},
	}
}

func TestClientHashMatchesKnownVector(t *testing.T) {
	// Deterministic inputs so the hash can be checked for stability.
	got := license.ClientHash("00000000-0000-0000-0000-000000000000", "1.2.0", "10.11.6")
	if len(got) != 28 || !strings.HasSuffix(got, "=") {
		t.Fatalf("expected base64 SHA-1 digest, got %q", got)
	}
	again := license.ClientHash("00000000-0000-0000-0000-000000000000", "1.2.0", "10.11.6")
	if got != again {
		t.Fatalf("hash not deterministic: %q vs %q", got, again)
	}
	if other := license.ClientHash("11111111-0000-0000-0000-000000000000", "1.2.0", "10.11.6"); other == got {
		t.Fatal("different client ids must hash differently")
	}
}

func TestNewClientIDIsUppercaseUUID(t *testing.T) {
	id := license.NewClientID()
	if id != strings.ToUpper(id) {
		t.Fatalf("client id should be uppercase: %q", id)
	}
	if len(id) != 36 {
		t.Fatalf("unexpected uuid length: %q", id)
	}
}

func TestAcquireSendsHandshakeParams(t *testing.T) {
	var query atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		if r.Header.Get("User-Agent") != "OverDrive Media Console" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(licenseBody))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	client := license.NewClient(cfg, nil)

	lic, err := client.Acquire(context.Background(), testManifest(server.URL, ""))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	params := query.Load().(interface{ Get(string) string })
	if params.Get("MediaID") != "MEDIA-1" {
		t.Errorf("MediaID = %q", params.Get("MediaID"))
	}
	for _, key := range []string{"ClientID", "OMC", "OS", "Hash"} {
		if params.Get(key) == "" {
			t.Errorf("missing %s param", key)
		}
	}
	if lic.ClientID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("expected signed client id to win, got %q", lic.ClientID)
	}
}

func TestAcquireReusesCachedLicense(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(licenseBody))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	client := license.NewClient(cfg, nil)
	manifest := testManifest(server.URL, "")

	if _, err := client.Acquire(context.Background(), manifest); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := client.Acquire(context.Background(), manifest); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected single server hit, got %d", hits.Load())
	}
}

func TestAcquireRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(licenseBody))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	client := license.NewClient(cfg, nil, license.WithBackoff(time.Millisecond))

	if _, err := client.Acquire(context.Background(), testManifest(server.URL, "")); err != nil {
		t.Fatalf("Acquire should succeed after retries: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestAcquireDeniedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "title not checked out", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	client := license.NewClient(cfg, nil, license.WithBackoff(time.Millisecond))

	_, err := client.Acquire(context.Background(), testManifest(server.URL, ""))
	if !errors.Is(err, license.ErrLicenseDenied) {
		t.Fatalf("expected ErrLicenseDenied, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("denial must not be retried: %d attempts", hits.Load())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		// The loan is gone; OverDrive answers later returns with an error.
		http.Error(w, "already returned", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	client := license.NewClient(cfg, nil, license.WithBackoff(time.Millisecond))
	manifest := testManifest("https://example.com/acquire", server.URL)

	if err := client.Release(context.Background(), manifest); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := client.Release(context.Background(), manifest); err != nil {
		t.Fatalf("second Release must not hard-fail: %v", err)
	}
}

func TestReleaseWithoutReturnURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := license.NewClient(cfg, nil)
	if err := client.Release(context.Background(), testManifest("https://example.com/acquire", "")); err != nil {
		t.Fatalf("Release without url should succeed locally: %v", err)
	}
}
