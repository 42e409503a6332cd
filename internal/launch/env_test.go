package launch

import (
	"strings"
	"testing"
)

func TestBuildEnv_BroadcastsCredentialAndOverlays(t *testing.T) {
	c := DefaultContract()
	base := []string{"PATH=/usr/bin", "OPENAI_API_KEY=old", "HOME=/root", "malformed"}
	p := Profile{Name: "primary", Env: map[string]string{"EXTRA": "1", "HOME": "/srv"}}
	paths := Paths{StateDir: "/srv/state", ArtifactPath: "/srv/openclaw.json"}

	env := c.BuildEnv(base, Credentials{APIKey: "sk-1", Model: "gpt-4o"}, p, paths)

	for _, name := range c.Credentials.EnvVars {
		if v, _ := LookupEnv(env, name); v != "sk-1" {
			t.Fatalf("expected %s=sk-1, got %q", name, v)
		}
	}
	checks := map[string]string{
		"PATH":                 "/usr/bin",
		"MODEL_NAME":           "gpt-4o",
		"NODE_OPTIONS":         "--max-old-space-size=512",
		"OPENCLAW_STATE_DIR":   "/srv/state",
		"OPENCLAW_CONFIG_PATH": "/srv/openclaw.json",
		"TERM":                 "xterm-256color",
		"EXTRA":                "1",
		"HOME":                 "/srv",
	}
	for k, want := range checks {
		if got, _ := LookupEnv(env, k); got != want {
			t.Fatalf("expected %s=%s, got %q", k, want, got)
		}
	}
	for _, kv := range env {
		if kv == "OPENAI_API_KEY=old" || kv == "malformed" {
			t.Fatalf("stale entry survived overlay: %v", env)
		}
	}
}

func TestBuildEnv_DefaultModelAndNoKey(t *testing.T) {
	c := DefaultContract()
	env := c.BuildEnv(nil, Credentials{}, Profile{}, Paths{})
	if v, _ := LookupEnv(env, "MODEL_NAME"); v != "claude-3-5-sonnet" {
		t.Fatalf("expected default model, got %q", v)
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			t.Fatalf("empty credential should not be exported: %v", env)
		}
	}
	if _, ok := LookupEnv(env, "OPENCLAW_STATE_DIR"); ok {
		t.Fatalf("state dir var should be omitted without a path: %v", env)
	}
}
