package repo

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/skriptd/modload/internal/testutil/testlog"
)

func seedRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "app"), 0o755))
	must(os.MkdirAll(filepath.Join(root, "archives"), 0o755))
	must(os.WriteFile(filepath.Join(root, "app", "base.unit.toml"), []byte(`
[[module]]
name = "app.base"
`), 0o644))
	must(os.WriteFile(filepath.Join(root, "archives", "core.bundle"), []byte(`
[[module]]
name = "core.util"
`), 0o644))
	must(os.WriteFile(filepath.Join(root, "manifest.toml"), []byte(`
[[archive]]
location = "http://localhost:9301/archives/core.bundle"
modules = ["core.util"]
`), 0o644))
	return root
}

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := Attach("repo-test", gin.New(), "", seedRepo(t))
	s.RegisterRoutes()
	return s
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestServeUnitAndArchive(t *testing.T) {
	testlog.Start(t)
	s := testServer(t)

	rr := get(t, s, "/units/app/base.unit.toml")
	if rr.Code != http.StatusOK {
		t.Fatalf("unit fetch: status %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/toml" {
		t.Fatalf("unit content type %q", got)
	}

	rr = get(t, s, "/archives/core.bundle")
	if rr.Code != http.StatusOK {
		t.Fatalf("archive fetch: status %d", rr.Code)
	}

	rr = get(t, s, "/manifest.toml")
	if rr.Code != http.StatusOK {
		t.Fatalf("manifest fetch: status %d", rr.Code)
	}
}

func TestMissingFileIs404(t *testing.T) {
	testlog.Start(t)
	s := testServer(t)

	rr := get(t, s, "/units/app/missing.unit.toml")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("error body missing")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	testlog.Start(t)
	s := testServer(t)

	if _, err := s.ReadFile("../secret"); !errors.Is(err, ErrPathEscapes) {
		t.Fatalf("expected ErrPathEscapes, got %v", err)
	}
	if _, err := s.ReadFile("/etc/passwd"); err == nil {
		t.Fatal("absolute-looking path must not leave the root")
	}

	rr := get(t, s, "/units/..%2Fsecret")
	if rr.Code == http.StatusOK {
		t.Fatalf("traversal request served: %d", rr.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	s := testServer(t)

	rr := get(t, s, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["service"] != "repo-test" || body["status"] != "ok" {
		t.Fatalf("unexpected health body: %#v", body)
	}

	if rr := get(t, s, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("ready: %d", rr.Code)
	}

	s.Root = filepath.Join(s.Root, "gone")
	if rr := get(t, s, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with missing root: %d", rr.Code)
	}
}
