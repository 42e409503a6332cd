// Package appserver composes the gateway's local routes with the web UI.
package appserver

import (
	"fmt"
	"net/http"
	"strings"

	"agentdeck/internal/gateway"
)

type WebUIConfig struct {
	Mode        string
	DevProxyURL string
	DistDir     string
	// Notice, when set, is shown as a banner on the served index page.
	Notice string
}

type Deps struct {
	Gateway       gateway.Deps
	GatewayHandle http.Handler
	WebUI         WebUIConfig
}

type Server struct {
	local http.Handler
	webui http.Handler
}

func NewServer(deps Deps) (*Server, error) {
	webui, err := newWebUIHandler(deps.WebUI)
	if err != nil {
		return nil, err
	}
	local := deps.GatewayHandle
	if local == nil {
		local = gateway.NewServer(deps.Gateway).Handler()
	}
	return &Server{local: local, webui: webui}, nil
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case p == "/ws" || p == "/healthz" || strings.HasPrefix(p, "/api/v1/"):
		s.local.ServeHTTP(w, r)
	default:
		s.webui.ServeHTTP(w, r)
	}
}

func routeError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
