package launch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrNoDiagnostic = errors.New("launch contract declares no diagnostic command")

type Exec interface {
	Output(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)
}

type RealExec struct{}

func (RealExec) Output(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return out, fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return out, err
	}
	return out, nil
}

// RunDiagnostic runs the contract's one-shot diagnostic command in the
// install directory with the launch environment and returns its output.
func (c Contract) RunDiagnostic(ctx context.Context, e Exec, paths Paths, env []string) ([]byte, error) {
	if !c.HasDiagnostic() {
		return nil, ErrNoDiagnostic
	}
	if e == nil {
		e = RealExec{}
	}
	ctx, cancel := context.WithTimeout(ctx, c.DiagnosticTimeout())
	defer cancel()
	return e.Output(ctx, paths.InstallDir, env, strings.TrimSpace(c.Diagnostic.Command), c.Diagnostic.Args...)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
