package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archsync/internal/rbac"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DocumentID != "architecture" {
		t.Errorf("DocumentID = %q", cfg.DocumentID)
	}
	if !cfg.GraphEnabled {
		t.Error("graph stage should be enabled by default")
	}
	if cfg.StoreTimeout != 10*time.Second {
		t.Errorf("StoreTimeout = %v", cfg.StoreTimeout)
	}
	if cfg.UpsertConcurrency != 1 {
		t.Errorf("UpsertConcurrency = %d", cfg.UpsertConcurrency)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ARCHSYNC_DOCUMENT_PATH", "docs/ARCHITECTURE.md")
	t.Setenv("ARCHSYNC_GRAPH_ENABLED", "false")
	t.Setenv("ARCHSYNC_STORE_TIMEOUT", "3s")
	t.Setenv("ARCHSYNC_UPSERT_CONCURRENCY", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DocumentPath != "docs/ARCHITECTURE.md" {
		t.Errorf("DocumentPath = %q", cfg.DocumentPath)
	}
	if cfg.GraphEnabled {
		t.Error("GraphEnabled should be false")
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Errorf("StoreTimeout = %v", cfg.StoreTimeout)
	}
	if cfg.UpsertConcurrency != 8 {
		t.Errorf("UpsertConcurrency = %d", cfg.UpsertConcurrency)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archsync.yaml")
	body := "ARCHSYNC_DOCUMENT_ID: platform\nNEO4J_URI: bolt://graph:7687\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEO4J_URI", "bolt://override:7687")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DocumentID != "platform" {
		t.Errorf("DocumentID = %q", cfg.DocumentID)
	}
	if cfg.Neo4jURI != "bolt://override:7687" {
		t.Errorf("environment should win over file, got %q", cfg.Neo4jURI)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestValidateForSync(t *testing.T) {
	complete := Config{
		DocumentPath:  "ARCHITECTURE.md",
		GraphEnabled:  true,
		Neo4jURI:      "bolt://localhost:7687",
		Neo4jUser:     "neo4j",
		Neo4jPassword: "secret",
	}
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"complete", func(*Config) {}, ""},
		{"missing document", func(c *Config) { c.DocumentPath = "" }, "ARCHSYNC_DOCUMENT_PATH"},
		{"missing password", func(c *Config) { c.Neo4jPassword = "" }, "NEO4J_PASSWORD"},
		{"missing all credentials", func(c *Config) { c.Neo4jURI, c.Neo4jUser, c.Neo4jPassword = "", "", "" }, "NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD"},
		{"graph disabled needs no credentials", func(c *Config) { c.GraphEnabled = false; c.Neo4jURI = "" }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := complete
			tc.mutate(&cfg)
			err := cfg.ValidateForSync()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadOperatorKeys(t *testing.T) {
	t.Setenv("ARCHSYNC_OPERATOR_KEYS", "Reviewer=$2a$10$reviewhash, admin=$2a$10$adminhash")
	t.Setenv("ARCHSYNC_OPERATOR_KEY_HASH", "$2a$10$operatorhash")
	t.Setenv("ARCHSYNC_OPERATOR_KEY_ROLE", "superuser")

	_, err := Load("")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown key role should be a configuration error, got %v", err)
	}

	t.Setenv("ARCHSYNC_OPERATOR_KEY_ROLE", "operator")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []OperatorKey{
		{Role: rbac.RoleReviewer, Hash: "$2a$10$reviewhash"},
		{Role: rbac.RoleAdmin, Hash: "$2a$10$adminhash"},
		{Role: rbac.RoleOperator, Hash: "$2a$10$operatorhash"},
	}
	if len(cfg.OperatorKeys) != len(want) {
		t.Fatalf("OperatorKeys = %+v", cfg.OperatorKeys)
	}
	for i := range want {
		if cfg.OperatorKeys[i] != want[i] {
			t.Errorf("OperatorKeys[%d] = %+v, want %+v", i, cfg.OperatorKeys[i], want[i])
		}
	}
}

func TestLoadOperatorKeysRejectsUnknownRole(t *testing.T) {
	for _, value := range []string{"root=$2a$10$hash", "reviewer", "admin="} {
		t.Setenv("ARCHSYNC_OPERATOR_KEYS", value)
		if _, err := Load(""); !errors.Is(err, ErrConfiguration) {
			t.Errorf("ARCHSYNC_OPERATOR_KEYS=%q: expected ErrConfiguration, got %v", value, err)
		}
	}
}
