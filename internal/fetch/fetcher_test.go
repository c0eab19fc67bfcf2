package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/skriptd/modload/internal/testutil/testlog"
)

func TestHTTPFetcher(t *testing.T) {
	testlog.Start(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/units/ok":
			_, _ = w.Write([]byte("unit body"))
		case "/units/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/units/ok")
	if err != nil {
		t.Fatalf("fetch ok: %v", err)
	}
	if string(data) != "unit body" {
		t.Fatalf("payload %q", data)
	}

	if _, err := f.Fetch(ctx, srv.URL+"/units/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/units/broken"); !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("expected ErrHTTPStatus, got %v", err)
	}
}

func TestFileFetcher(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "mod.unit.toml")
	if err := os.WriteFile(path, []byte("from disk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := FileFetcher{}
	ctx := context.Background()

	data, err := f.Fetch(ctx, path)
	if err != nil {
		t.Fatalf("fetch plain path: %v", err)
	}
	if string(data) != "from disk" {
		t.Fatalf("payload %q", data)
	}

	data, err = f.Fetch(ctx, "file://"+path)
	if err != nil {
		t.Fatalf("fetch file url: %v", err)
	}
	if string(data) != "from disk" {
		t.Fatalf("payload %q", data)
	}

	if _, err := f.Fetch(ctx, filepath.Join(dir, "nope")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryFetcher(t *testing.T) {
	testlog.Start(t)

	f := NewMemoryFetcher()
	f.Put("mem://core", []byte("bundled"))

	data, err := f.Fetch(context.Background(), "mem://core")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "bundled" {
		t.Fatalf("payload %q", data)
	}
	if _, err := f.Fetch(context.Background(), "mem://other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatcherRoutes(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "local.unit.toml")
	if err := os.WriteFile(path, []byte("local"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	d := NewDispatcher()
	ctx := context.Background()

	data, err := d.Fetch(ctx, srv.URL+"/anything")
	if err != nil {
		t.Fatalf("dispatch http: %v", err)
	}
	if string(data) != "remote" {
		t.Fatalf("payload %q", data)
	}

	data, err = d.Fetch(ctx, path)
	if err != nil {
		t.Fatalf("dispatch file: %v", err)
	}
	if string(data) != "local" {
		t.Fatalf("payload %q", data)
	}
}
