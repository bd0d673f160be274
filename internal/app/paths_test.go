package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexlab/cortex/internal/config"
)

func TestResolvePaths_ResolvesConfigDirectory(t *testing.T) {
	configHome := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("XDG_CONFIG_HOME", configHome)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	if paths.RootDir != filepath.Join(configHome, Name) {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
	if paths.DBFile != filepath.Join(configHome, Name, DBFilename) {
		t.Fatalf("unexpected db file: %q", paths.DBFile)
	}
	if _, err := os.Stat(paths.RootDir); err != nil {
		t.Fatalf("expected root directory to exist: %v", err)
	}
}

func TestInstrumentsFileResolution(t *testing.T) {
	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}

	cfg := config.Default()
	if got := paths.InstrumentsFile(cfg); got != filepath.Join(paths.RootDir, config.DefaultInstrumentsFile) {
		t.Fatalf("expected relative path under root, got %q", got)
	}
	cfg.InstrumentsFile = "/etc/cortex/bench.yaml"
	if got := paths.InstrumentsFile(cfg); got != "/etc/cortex/bench.yaml" {
		t.Fatalf("expected absolute path kept, got %q", got)
	}
}
