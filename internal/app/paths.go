package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cortexlab/cortex/internal/config"
)

// Paths stores resolved runtime file locations in the user config dir.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	return PathsIn(filepath.Join(cfgRoot, Name))
}

// PathsIn lays out the runtime files under root, creating it if needed.
func PathsIn(root string) (Paths, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
	}, nil
}

// InstrumentsFile resolves the configured instrument list relative to the
// config dir.
func (p Paths) InstrumentsFile(cfg config.AppConfig) string {
	if filepath.IsAbs(cfg.InstrumentsFile) {
		return cfg.InstrumentsFile
	}

	return filepath.Join(p.RootDir, cfg.InstrumentsFile)
}
