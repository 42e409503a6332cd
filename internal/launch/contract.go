// Package launch describes how the external agent is started: the versioned
// launch contract, the profiles it declares, the child environment, and the
// configuration artifact written before every attempt.
package launch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentContractVersion is written by DefaultContract.
	CurrentContractVersion = "1.0.0"
	// SupportedContractConstraint lists the contract versions this build reads.
	SupportedContractConstraint = "^1"

	DefaultMaxAttempts      = 3
	DefaultRetryBaseDelayMS = 3000
	DefaultRetryMaxDelayMS  = 30000
	DefaultTermCols         = 80
	DefaultTermRows         = 30
	DefaultDiagnosticMS     = 15000
)

var (
	ErrUnsupportedContract = errors.New("unsupported launch contract version")
	ErrInvalidContract     = errors.New("invalid launch contract")
)

type Profile struct {
	Name    string            `json:"name" toml:"name" yaml:"name"`
	Command string            `json:"command" toml:"command" yaml:"command"`
	Args    []string          `json:"args" toml:"args" yaml:"args"`
	WorkDir string            `json:"work_dir,omitempty" toml:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty" toml:"env,omitempty" yaml:"env,omitempty"`
}

type CredentialSpec struct {
	EnvVars      []string `json:"env_vars" toml:"env_vars" yaml:"env_vars"`
	ModelEnvVar  string   `json:"model_env_var" toml:"model_env_var" yaml:"model_env_var"`
	DefaultModel string   `json:"default_model" toml:"default_model" yaml:"default_model"`
}

type RuntimeSpec struct {
	MemoryLimitMB    int    `json:"memory_limit_mb" toml:"memory_limit_mb" yaml:"memory_limit_mb"`
	MemoryEnvVar     string `json:"memory_env_var" toml:"memory_env_var" yaml:"memory_env_var"`
	StateDir         string `json:"state_dir,omitempty" toml:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	StateDirEnvVar   string `json:"state_dir_env_var,omitempty" toml:"state_dir_env_var,omitempty" yaml:"state_dir_env_var,omitempty"`
	ConfigPathEnvVar string `json:"config_path_env_var,omitempty" toml:"config_path_env_var,omitempty" yaml:"config_path_env_var,omitempty"`
	Term             string `json:"term" toml:"term" yaml:"term"`
}

type ArtifactSpec struct {
	Path   string `json:"path" toml:"path" yaml:"path"`
	Format string `json:"format" toml:"format" yaml:"format"`
}

type DiagnosticSpec struct {
	Command   string   `json:"command,omitempty" toml:"command,omitempty" yaml:"command,omitempty"`
	Args      []string `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`
	TimeoutMS int      `json:"timeout_ms" toml:"timeout_ms" yaml:"timeout_ms"`
}

// Contract is the versioned description of a known-correct way to launch
// the external agent.
type Contract struct {
	ContractVersion  string         `json:"contract_version" toml:"contract_version" yaml:"contract_version"`
	InstallDir       string         `json:"install_dir" toml:"install_dir" yaml:"install_dir"`
	MaxAttempts      int            `json:"max_attempts" toml:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelayMS int            `json:"retry_base_delay_ms" toml:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int            `json:"retry_max_delay_ms" toml:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	TermCols         int            `json:"term_cols" toml:"term_cols" yaml:"term_cols"`
	TermRows         int            `json:"term_rows" toml:"term_rows" yaml:"term_rows"`
	Profiles         []Profile      `json:"profiles" toml:"profiles" yaml:"profiles"`
	Credentials      CredentialSpec `json:"credentials" toml:"credentials" yaml:"credentials"`
	Runtime          RuntimeSpec    `json:"runtime" toml:"runtime" yaml:"runtime"`
	Artifact         ArtifactSpec   `json:"artifact" toml:"artifact" yaml:"artifact"`
	Diagnostic       DiagnosticSpec `json:"diagnostic" toml:"diagnostic" yaml:"diagnostic"`
}

func DefaultContract() Contract {
	return Normalize(Contract{
		ContractVersion: CurrentContractVersion,
		InstallDir:      "openclaw-engine",
		Profiles: []Profile{
			{Name: "primary", Command: "npm", Args: []string{"start"}},
		},
		Credentials: CredentialSpec{
			EnvVars:      []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY"},
			ModelEnvVar:  "MODEL_NAME",
			DefaultModel: "claude-3-5-sonnet",
		},
		Runtime: RuntimeSpec{
			MemoryLimitMB:    512,
			MemoryEnvVar:     "NODE_OPTIONS",
			StateDir:         "state",
			StateDirEnvVar:   "OPENCLAW_STATE_DIR",
			ConfigPathEnvVar: "OPENCLAW_CONFIG_PATH",
		},
		Artifact: ArtifactSpec{Path: "openclaw.json", Format: FormatJSON},
	})
}

// Normalize fills zero values with defaults. It never drops user values.
func Normalize(c Contract) Contract {
	c.ContractVersion = strings.TrimSpace(c.ContractVersion)
	if c.ContractVersion == "" {
		c.ContractVersion = CurrentContractVersion
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelayMS <= 0 {
		c.RetryBaseDelayMS = DefaultRetryBaseDelayMS
	}
	if c.RetryMaxDelayMS < c.RetryBaseDelayMS {
		c.RetryMaxDelayMS = max(DefaultRetryMaxDelayMS, c.RetryBaseDelayMS)
	}
	if c.TermCols < 2 {
		c.TermCols = DefaultTermCols
	}
	if c.TermRows < 2 {
		c.TermRows = DefaultTermRows
	}
	if strings.TrimSpace(c.Runtime.Term) == "" {
		c.Runtime.Term = "xterm-256color"
	}
	c.Artifact.Format = strings.ToLower(strings.TrimSpace(c.Artifact.Format))
	if c.Artifact.Format == "" {
		c.Artifact.Format = FormatJSON
	}
	if c.Diagnostic.TimeoutMS <= 0 {
		c.Diagnostic.TimeoutMS = DefaultDiagnosticMS
	}
	for i := range c.Profiles {
		if strings.TrimSpace(c.Profiles[i].Name) == "" {
			c.Profiles[i].Name = fmt.Sprintf("profile-%d", i)
		}
	}
	return c
}

// Validate checks the contract version against SupportedContractConstraint
// and the shape of the profile table.
func (c Contract) Validate() error {
	v, err := semver.NewVersion(c.ContractVersion)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedContract, c.ContractVersion, err)
	}
	constraint, err := semver.NewConstraint(SupportedContractConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedContract, v, SupportedContractConstraint)
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("%w: at least one profile is required", ErrInvalidContract)
	}
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("%w: profile %d (%s) has no command", ErrInvalidContract, i, p.Name)
		}
	}
	if !isKnownFormat(c.Artifact.Format) {
		return fmt.Errorf("%w: artifact format %q", ErrInvalidContract, c.Artifact.Format)
	}
	return nil
}

// Select maps an attempt index to a profile. Indexes past the table reuse
// the last profile.
func (c Contract) Select(attempt int) Profile {
	if len(c.Profiles) == 0 {
		return Profile{}
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(c.Profiles) {
		attempt = len(c.Profiles) - 1
	}
	p := c.Profiles[attempt]
	p.Args = append([]string(nil), p.Args...)
	if len(p.Env) > 0 {
		env := make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			env[k] = v
		}
		p.Env = env
	}
	return p
}

// RetryDelay is the wait before respawn number attempt (1-based): the base
// delay doubled per attempt, capped at RetryMaxDelayMS.
func (c Contract) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(c.RetryBaseDelayMS) * time.Millisecond
	limit := time.Duration(c.RetryMaxDelayMS) * time.Millisecond
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func (c Contract) DiagnosticTimeout() time.Duration {
	return time.Duration(c.Diagnostic.TimeoutMS) * time.Millisecond
}

func (c Contract) HasDiagnostic() bool {
	return strings.TrimSpace(c.Diagnostic.Command) != ""
}
