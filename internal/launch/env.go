package launch

import (
	"fmt"
	"sort"
	"strings"
)

// Credentials is the transient start input from a client. It is folded into
// the child environment and the config artifact and nowhere else.
type Credentials struct {
	APIKey string
	Model  string
}

func (c Contract) ModelOrDefault(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.Credentials.DefaultModel
}

// BuildEnv overlays the contract's variables on top of base. The credential
// is broadcast under every provider variable because the agent picks the
// provider itself. Later overlays win: credentials, model, runtime tuning,
// state paths, then profile overrides.
func (c Contract) BuildEnv(base []string, creds Credentials, p Profile, paths Paths) []string {
	overlay := map[string]string{}
	if key := strings.TrimSpace(creds.APIKey); key != "" {
		for _, name := range c.Credentials.EnvVars {
			if name = strings.TrimSpace(name); name != "" {
				overlay[name] = key
			}
		}
	}
	if name := strings.TrimSpace(c.Credentials.ModelEnvVar); name != "" {
		if model := c.ModelOrDefault(creds.Model); model != "" {
			overlay[name] = model
		}
	}
	if name := strings.TrimSpace(c.Runtime.MemoryEnvVar); name != "" && c.Runtime.MemoryLimitMB > 0 {
		overlay[name] = fmt.Sprintf("--max-old-space-size=%d", c.Runtime.MemoryLimitMB)
	}
	if name := strings.TrimSpace(c.Runtime.StateDirEnvVar); name != "" && paths.StateDir != "" {
		overlay[name] = paths.StateDir
	}
	if name := strings.TrimSpace(c.Runtime.ConfigPathEnvVar); name != "" && paths.ArtifactPath != "" {
		overlay[name] = paths.ArtifactPath
	}
	overlay["TERM"] = c.Runtime.Term
	for k, v := range p.Env {
		if k = strings.TrimSpace(k); k != "" {
			overlay[k] = v
		}
	}

	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, replaced := overlay[name]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

// LookupEnv returns the last value of name in env.
func LookupEnv(env []string, name string) (string, bool) {
	value, found := "", false
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == name {
			value, found = v, true
		}
	}
	return value, found
}
