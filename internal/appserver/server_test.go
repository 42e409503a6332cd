package appserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func makeDeps() Deps {
	return Deps{
		WebUI: WebUIConfig{Mode: "dev", DevProxyURL: "http://127.0.0.1:15173"},
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, string(body)
}

func TestServer_DevProxy_ForRootPath(t *testing.T) {
	vite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("vite-dev-ok"))
	}))
	defer vite.Close()

	deps := makeDeps()
	deps.WebUI.DevProxyURL = vite.URL
	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, body := get(t, ts.URL+"/"); !strings.Contains(body, "vite-dev-ok") {
		t.Fatalf("expected dev proxy body, got %s", body)
	}
}

func TestServer_DevProxyUnavailable(t *testing.T) {
	deps := makeDeps()
	deps.WebUI.DevProxyURL = "http://127.0.0.1:1"
	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if code, _ := get(t, ts.URL+"/"); code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", code)
	}
}

func TestServer_RoutesLocalPathsToGateway(t *testing.T) {
	srv, err := NewServer(makeDeps())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if code, body := get(t, ts.URL+"/healthz"); code != http.StatusOK || !strings.Contains(body, `"ok":true`) {
		t.Fatalf("expected health from gateway, got %d %s", code, body)
	}
	if code, _ := get(t, ts.URL+"/api/v1/sessions"); code != http.StatusOK {
		t.Fatalf("expected 200 from api route, got %d", code)
	}
}

func TestServer_InvalidDevProxyURL(t *testing.T) {
	deps := makeDeps()
	deps.WebUI.DevProxyURL = "http://[::1"
	if _, err := NewServer(deps); err == nil {
		t.Fatal("expected invalid proxy url error")
	}
}

func writeDist(t *testing.T) string {
	t.Helper()
	dist := t.TempDir()
	if err := os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html><body>index</body></html>"), 0o644); err != nil {
		t.Fatalf("write index failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dist, "main.js"), []byte("console.log('ok')"), 0o644); err != nil {
		t.Fatalf("write main.js failed: %v", err)
	}
	return dist
}

func TestServer_ProdStaticFallbackToIndex(t *testing.T) {
	deps := makeDeps()
	deps.WebUI.Mode = "prod"
	deps.WebUI.DistDir = writeDist(t)
	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, body := get(t, ts.URL+"/unknown/path"); !strings.Contains(body, "index") {
		t.Fatalf("expected index fallback, got %s", body)
	}
	if _, body := get(t, ts.URL+"/main.js"); !strings.Contains(body, "console.log") {
		t.Fatalf("expected static asset, got %s", body)
	}
	if _, body := get(t, ts.URL+"/"); strings.Contains(body, "agentdeck-notice") {
		t.Fatalf("no notice expected without config, got %s", body)
	}
}

func TestServer_ProdInjectsEscapedNotice(t *testing.T) {
	deps := makeDeps()
	deps.WebUI.Mode = "prod"
	deps.WebUI.DistDir = writeDist(t)
	deps.WebUI.Notice = "Maintenance <tonight>"
	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/", "/settings"} {
		_, body := get(t, ts.URL+path)
		if !strings.Contains(body, "Maintenance &lt;tonight&gt;</div></body>") {
			t.Fatalf("expected escaped notice before </body> on %s, got %s", path, body)
		}
	}
	if _, body := get(t, ts.URL+"/main.js"); strings.Contains(body, "agentdeck-notice") {
		t.Fatalf("assets must not carry the notice, got %s", body)
	}
}

func TestInjectNotice_WithoutBodyTag(t *testing.T) {
	got := string(injectNotice([]byte("<p>hi</p>"), "note"))
	if !strings.HasPrefix(got, "<p>hi</p><div") || !strings.HasSuffix(got, "note</div>") {
		t.Fatalf("unexpected page %s", got)
	}
}
