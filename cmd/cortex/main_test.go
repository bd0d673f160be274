package main

import (
	"path/filepath"
	"testing"
)

func TestRuntimeOptions(t *testing.T) {
	opts, err := runtimeOptions("", true)
	if err != nil {
		t.Fatalf("runtime options: %v", err)
	}
	if !opts.Simulate || opts.Paths != nil {
		t.Fatalf("expected default paths with simulation, got %+v", opts)
	}

	dir := t.TempDir()
	opts, err = runtimeOptions(dir, false)
	if err != nil {
		t.Fatalf("runtime options: %v", err)
	}
	if opts.Paths == nil || opts.Paths.ConfigFile != filepath.Join(dir, "config.json") {
		t.Fatalf("expected paths under %s, got %+v", dir, opts.Paths)
	}
}
