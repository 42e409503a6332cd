package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	ErrUnresolvedInstall = errors.New("agent install directory not found")
	ErrUnresolvedBinary  = errors.New("agent command not found")
)

// Paths are the filesystem locations for one launch attempt.
type Paths struct {
	InstallDir   string
	WorkDir      string
	Binary       string
	ArtifactPath string
	StateDir     string
}

// ResolveInstall resolves the install root and artifact/state paths. Relative
// contract paths are anchored at baseDir.
func (c Contract) ResolveInstall(baseDir string) (Paths, error) {
	install := anchor(baseDir, c.InstallDir)
	st, err := os.Stat(install)
	if err != nil {
		return Paths{}, fmt.Errorf("%w: %s: %v", ErrUnresolvedInstall, install, err)
	}
	if !st.IsDir() {
		return Paths{}, fmt.Errorf("%w: %s is not a directory", ErrUnresolvedInstall, install)
	}
	out := Paths{InstallDir: install}
	if strings.TrimSpace(c.Artifact.Path) != "" {
		out.ArtifactPath = anchor(install, c.Artifact.Path)
	}
	if strings.TrimSpace(c.Runtime.StateDir) != "" {
		out.StateDir = anchor(install, c.Runtime.StateDir)
	}
	return out, nil
}

// ResolveProfile fills WorkDir and Binary for p on top of install paths.
// lookPath is exec.LookPath in production.
func ResolveProfile(paths Paths, p Profile, lookPath func(string) (string, error)) (Paths, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	paths.WorkDir = anchor(paths.InstallDir, p.WorkDir)
	st, err := os.Stat(paths.WorkDir)
	if err != nil || !st.IsDir() {
		return Paths{}, fmt.Errorf("%w: work dir %s for profile %s", ErrUnresolvedInstall, paths.WorkDir, p.Name)
	}
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return Paths{}, fmt.Errorf("%w: profile %s has no command", ErrUnresolvedBinary, p.Name)
	}
	if strings.ContainsRune(command, filepath.Separator) {
		bin := anchor(paths.WorkDir, command)
		if _, err := os.Stat(bin); err != nil {
			return Paths{}, fmt.Errorf("%w: %s", ErrUnresolvedBinary, bin)
		}
		paths.Binary = bin
		return paths, nil
	}
	bin, err := lookPath(command)
	if err != nil {
		return Paths{}, fmt.Errorf("%w: %s: %v", ErrUnresolvedBinary, command, err)
	}
	paths.Binary = bin
	return paths, nil
}

func anchor(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
