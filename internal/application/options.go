package application

import (
	"context"
	"log/slog"
)

// StartOptions defines startup options for the panel.
type StartOptions struct {
	ConfigDir    string
	DBDSN        string
	ContractPath string
	// AgentDir anchors a relative install_dir; defaults to the working
	// directory.
	AgentDir  string
	LocalHost string
	LocalPort int
	WebUI     WebUIOptions
	Logger    *slog.Logger
	Hooks     Hooks
}

type WebUIOptions struct {
	Mode        string
	DevProxyURL string
	DistDir     string
	Notice      string
}

// Hooks replace the bootstrapped run/shutdown behaviour in tests.
type Hooks struct {
	Run      func(context.Context) error
	Shutdown func(context.Context) error
}
