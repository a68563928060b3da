package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

func writeConfig(t *testing.T, dataDir string, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`
route:
  endpoints:
    - http://127.0.0.1:1/v1/chat/completions
personas:
  default: You are ZIA.
storage:
  backend: file
  path: %s
%s`, dataDir, extra)
	path := filepath.Join(t.TempDir(), "zia.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")

	out, err := run(t, "--config", path, "validate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "configuration OK") || !strings.Contains(out, "storage: file") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestValidateRejectsBadOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
overrides:
  - platform: slack
    match: "C[01"
    persona: default
`)

	if _, err := run(t, "--config", path, "validate"); err == nil {
		t.Fatal("expected invalid pattern to fail validation")
	}
}

func TestServeNeedsAFrontEnd(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")

	_, err := run(t, "--config", path, "serve")
	if err == nil || !strings.Contains(err.Error(), "no front-end enabled") {
		t.Fatalf("expected no front-end error, got %v", err)
	}
}

func TestHistoryAndReset(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, dataDir, "")

	store, err := storage.NewFileStore(dataDir, storage.DefaultLimits, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	key := storage.Key{Platform: "slack", Channel: "C1"}
	ctx := context.Background()
	if _, err := store.Append(ctx, key, storage.RoleUser, "U1", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, key, storage.RoleAssistant, "", "hi there"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", path, "history", "slack/C1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "user (U1): hello") || !strings.Contains(out, "assistant: hi there") {
		t.Fatalf("unexpected history output %q", out)
	}

	out, err = run(t, "--config", path, "history", "slack/C1", "--limit", "1")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "hello") || !strings.Contains(out, "hi there") {
		t.Fatalf("limit not applied: %q", out)
	}

	if _, err := run(t, "--config", path, "reset", "slack/C1"); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "--config", path, "history", "slack/C1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no messages") {
		t.Fatalf("expected empty history after reset, got %q", out)
	}
}

func TestHistoryRejectsBadKey(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")

	if _, err := run(t, "--config", path, "history", "nokey"); err == nil {
		t.Fatal("expected bad key error")
	}
}
