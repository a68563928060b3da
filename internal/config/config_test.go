package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zia.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
route:
  endpoints:
    - http://localhost:8000/v1/chat/completions
personas:
  default: You are ZIA.
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Route.Model != "qwen3-v1-4b" {
		t.Fatalf("expected default model, got %q", cfg.Route.Model)
	}
	if cfg.Route.MaxTokens != 100 {
		t.Fatalf("expected max_tokens 100, got %d", cfg.Route.MaxTokens)
	}
	if cfg.Route.Timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %v", cfg.Route.Timeout)
	}
	if cfg.Memory.LogLimit != 100 || cfg.Memory.LoadLimit != 10 {
		t.Fatalf("unexpected memory limits %+v", cfg.Memory)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Storage.Path != "runtime/db" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Web.TokenTTL != 60*time.Minute {
		t.Fatalf("expected 60m token ttl, got %v", cfg.Web.TokenTTL)
	}

	ep := cfg.Route.Endpoints[0]
	if ep.Kind != KindHTTP || ep.URL != "http://localhost:8000/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
	if p := cfg.Personas["default"]; p.Content != "You are ZIA." || p.Role != "system" {
		t.Fatalf("unexpected default persona %+v", p)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
route:
  endpoints:
    - http://primary/v1/chat/completions
    - url: https://api.anthropic.com
      kind: anthropic
      api_key: sk-ant
      default_model: claude-haiku-4-5
  model: local-model
  timeout: 3s
memory:
  log_limit: 50
  load_limit: 5
personas:
  default:
    role: system
    content: You are ZIA.
  pirate: Arr.
overrides:
  - platform: slack
    match: C01ABC
    persona: pirate
discord:
  enabled: true
  token: discord-token
  channels:
    - id: "1234"
      persona: pirate
    - id: "5678"
storage:
  backend: sqlite
  path: /var/lib/zia
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Route.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.Route.Endpoints))
	}
	if ep := cfg.Route.Endpoints[1]; ep.Kind != KindAnthropic || ep.APIKey != "sk-ant" || ep.DefaultModel != "claude-haiku-4-5" {
		t.Fatalf("unexpected anthropic endpoint %+v", ep)
	}
	if cfg.Route.Timeout != 3*time.Second {
		t.Fatalf("expected 3s, got %v", cfg.Route.Timeout)
	}
	if cfg.Personas["pirate"].Content != "Arr." {
		t.Fatalf("bare string persona not decoded: %+v", cfg.Personas["pirate"])
	}

	overrides := cfg.PersonaOverrides()
	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %+v", overrides)
	}
	if overrides[0].Match != "C01ABC" {
		t.Fatalf("override match must keep its case, got %q", overrides[0].Match)
	}
	if overrides[1] != (Override{Platform: "discord", Match: "1234", Persona: "pirate"}) {
		t.Fatalf("unexpected discord override %+v", overrides[1])
	}
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("ZIA_WEB_ENABLED", "true")
	t.Setenv("ZIA_WEB_JWT_SECRET", "s3cret")
	t.Setenv("ZIA_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Web.Enabled || cfg.Web.JWTSecret != "s3cret" {
		t.Fatalf("env secrets not applied: %+v", cfg.Web)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	_, err := Load(writeConfig(t, `
memory:
  log_limit: 5
  load_limit: 10
storage:
  backend: tape
slack:
  enabled: true
`))

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}

	want := []string{
		"route.endpoints",
		"load_limit (10) must not exceed",
		"personas.default",
		"invalid storage.backend",
		"ZIA_SLACK_BOT_TOKEN",
		"ZIA_SLACK_APP_TOKEN",
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "configuration errors:\n  - ") {
		t.Fatalf("unexpected format %q", msg)
	}
	for _, w := range want {
		if !strings.Contains(msg, w) {
			t.Errorf("expected %q in %q", w, msg)
		}
	}
}

func TestValidateUnknownEndpointKind(t *testing.T) {
	cfg := &Config{
		Route:    RouteConfig{Endpoints: []Endpoint{{URL: "x", Kind: "grpc"}}, MaxTokens: 1, Timeout: time.Second},
		Memory:   MemoryConfig{LogLimit: 2, LoadLimit: 1},
		Personas: map[string]PersonaSpec{"default": {Content: "x"}},
		Storage:  StorageConfig{Backend: BackendMemory},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `unknown kind "grpc"`) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestPersonaDirRelaxesDefaultCheck(t *testing.T) {
	cfg := &Config{
		Route:      RouteConfig{Endpoints: []Endpoint{{URL: "x", Kind: KindHTTP}}, MaxTokens: 1, Timeout: time.Second},
		Memory:     MemoryConfig{LogLimit: 2, LoadLimit: 1},
		PersonaDir: "personas",
		Storage:    StorageConfig{Backend: BackendMemory},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestLoadOptionOverridesFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal), func(v *viper.Viper) error {
		v.Set("log.format", "json")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("expected option to set log.format, got %q", cfg.Log.Format)
	}
}

func TestPersonaReferencesMatchFoldedNames(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
route:
  endpoints:
    - http://localhost:8000/v1/chat/completions
personas:
  default: d
  Pirate: arr
overrides:
  - platform: slack
    match: C01ABC
    persona: Pirate
discord:
  enabled: true
  token: t
  channels:
    - id: "1"
      persona: " PIRATE "
`))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := cfg.PersonaContents()["pirate"]; !ok {
		t.Fatalf("expected persona stored as pirate, got %v", cfg.PersonaContents())
	}
	for _, o := range cfg.PersonaOverrides() {
		if o.Persona != "pirate" {
			t.Fatalf("override persona must match the folded name, got %q", o.Persona)
		}
	}
}
