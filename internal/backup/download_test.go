package backup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testDownloader(t *testing.T) *Downloader {
	t.Helper()
	return NewDownloader(zap.NewNop(), WithRetryPolicy(3, time.Millisecond))
}

func TestDownloadWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "asset.png")
	if err := testDownloader(t).Download(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestDownloadEmptyURLIsNoop(t *testing.T) {
	if err := testDownloader(t).Download(context.Background(), "", filepath.Join(t.TempDir(), "x")); err != nil {
		t.Fatalf("empty url must succeed: %v", err)
	}
}

func TestDownloadRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.png")
	if err := testDownloader(t).Download(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("download should succeed on third attempt: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDownloadExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.png")
	if err := testDownloader(t).Download(context.Background(), server.URL, dest); err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestDownloadRejectsOversizedBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Length", "33554432")
		_, _ = w.Write(make([]byte, 32<<20))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.png")
	if err := testDownloader(t).Download(context.Background(), server.URL, dest); err == nil {
		t.Fatalf("expected size cap rejection")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("size cap rejection should not retry, got %d attempts", got)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("oversized download must not leave a file behind")
	}
}
