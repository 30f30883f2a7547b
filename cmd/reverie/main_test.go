package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/epitome-sim/reverie-core/internal/auth"
)

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("REVERIE_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath(\"\") = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("REVERIE_CONFIG", "/etc/reverie/config.yaml")
	if got := resolveConfigPath(""); got != "/etc/reverie/config.yaml" {
		t.Errorf("resolveConfigPath(\"\") = %q, want env path", got)
	}
	if got := resolveConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q, want local.yaml", got)
	}
}

func TestTokenCmd(t *testing.T) {
	secret := "token-command-secret-at-least-32-chars"
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "security:\n  jwt:\n    secret: \"" + secret + "\"\n    issuer: reverie\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "token", "alice"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), secret, "reverie")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", claims.Subject)
	}
}

func TestTokenCmd_NoSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "token", "alice"})
	if err := root.Execute(); err == nil {
		t.Error("Execute() expected error without a secret")
	}
}
