package appserver

import (
	"bytes"
	"html"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func newWebUIHandler(cfg WebUIConfig) (http.Handler, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "prod"
	}
	if mode == "prod" {
		dist := cfg.DistDir
		if dist == "" {
			dist = filepath.Clean("public")
		}
		return &spaHandler{dist: dist, notice: strings.TrimSpace(cfg.Notice)}, nil
	}
	proxyURL := cfg.DevProxyURL
	if proxyURL == "" {
		proxyURL = "http://127.0.0.1:15173"
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, routeError("invalid dev proxy url: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, e error) {
		http.Error(w, "webui dev server unavailable (start vite on "+u.Host+")", http.StatusBadGateway)
	}
	return proxy, nil
}

type spaHandler struct {
	dist   string
	notice string
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := filepath.Clean("/" + r.URL.Path)
	indexPath := filepath.Join(h.dist, "index.html")
	if clean != "/" && clean != "/index.html" {
		candidate := filepath.Join(h.dist, strings.TrimPrefix(clean, "/"))
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			http.ServeFile(w, r, candidate)
			return
		}
	}
	if h.notice == "" {
		http.ServeFile(w, r, indexPath)
		return
	}
	h.serveIndexWithNotice(w, r, indexPath)
}

func (h *spaHandler) serveIndexWithNotice(w http.ResponseWriter, r *http.Request, indexPath string) {
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	page := injectNotice(raw, h.notice)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(page)))
	http.ServeContent(w, r, "index.html", time.Time{}, bytes.NewReader(page))
}

// injectNotice puts a banner before </body>, or appends it when the page
// has no body close tag.
func injectNotice(page []byte, notice string) []byte {
	banner := `<div id="agentdeck-notice" role="status" style="position:fixed;bottom:0;left:0;right:0;padding:8px 12px;background:#fff4ce;color:#5c4400;font:14px sans-serif;z-index:9999">` +
		html.EscapeString(notice) + `</div>`
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte(nil), page...), banner...)
	}
	out := make([]byte, 0, len(page)+len(banner))
	out = append(out, page[:idx]...)
	out = append(out, banner...)
	out = append(out, page[idx:]...)
	return out
}
