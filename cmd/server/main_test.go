package main

import (
	"context"
	"path/filepath"
	"testing"

	"pulsebench/internal/config"
	"pulsebench/internal/storage"
)

func TestParseFlagsDefaults(t *testing.T) {
	flags := parseFlags(nil)
	if flags.addr != "" || flags.tlsCert != "" || flags.tlsKey != "" || flags.dataFile != "" {
		t.Fatalf("expected zero-valued overrides, got %#v", flags)
	}
}

func TestParseFlagsOverridesAddr(t *testing.T) {
	flags := parseFlags([]string{"-addr", "0.0.0.0:9090", "-tls-cert", "cert.pem", "-tls-key", "key.pem"})
	if flags.addr != "0.0.0.0:9090" {
		t.Fatalf("expected addr override, got %q", flags.addr)
	}
	if flags.tlsCert != "cert.pem" || flags.tlsKey != "key.pem" {
		t.Fatalf("expected tls overrides, got %#v", flags)
	}
}

func TestParseFlagsOverridesDataFile(t *testing.T) {
	flags := parseFlags([]string{"-data-file", "/tmp/custom.json"})
	if flags.dataFile != "/tmp/custom.json" {
		t.Fatalf("expected data-file override, got %q", flags.dataFile)
	}
}

func TestOpenRepositoryUsesFileStoreWithoutDatabaseURL(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}

	repo, closeRepo, err := openRepository(context.Background(), cfg, flagOverrides{dataFile: filepath.Join(dir, "store.json")})
	if err != nil {
		t.Fatalf("openRepository error: %v", err)
	}
	defer closeRepo()

	if _, ok := repo.(*storage.Storage); !ok {
		t.Fatalf("expected *storage.Storage, got %T", repo)
	}
}

func TestOpenRepositoryCreatesNestedDataFileDir(t *testing.T) {
	cfg := &config.Config{}
	repo, closeRepo, err := openRepository(context.Background(), cfg, flagOverrides{dataFile: filepath.Join(t.TempDir(), "nested", "store.json")})
	if err != nil {
		t.Fatalf("openRepository error: %v", err)
	}
	defer closeRepo()
	if repo == nil {
		t.Fatal("expected non-nil repository")
	}
}
