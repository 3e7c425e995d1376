package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mgxhub.ini")
	content := "[database]\nsqlite = " + filepath.Join(dir, "mgxhub.sqlite") + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.System.LogLevel != "INFO" {
		t.Errorf("expected default loglevel INFO, got %q", cfg.System.LogLevel)
	}
	if cfg.Rating.KFactor != 32 {
		t.Errorf("expected default kfactor 32, got %d", cfg.Rating.KFactor)
	}
	if cfg.Rating.BatchSize != 150_000 {
		t.Errorf("expected default batchsize 150000, got %d", cfg.Rating.BatchSize)
	}
	if !cfg.S3.Secure {
		t.Errorf("expected default s3 secure=true")
	}
}

func TestDefaultNeverRequiresSqlitePath(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() returned error: %v", err)
	}
	if cfg.Database.Sqlite != "" {
		t.Errorf("expected no sqlite path in defaults, got %q", cfg.Database.Sqlite)
	}
	if cfg.Rating.LockFile == "" {
		t.Errorf("expected a default lock file path")
	}
}

func TestLoadRequiresSqlitePath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mgxhub.ini")
	if err := os.WriteFile(cfgPath, []byte("[system]\nloglevel = DEBUG\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected an error when database.sqlite is not configured")
	}
}
