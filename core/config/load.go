package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// DefaultDir returns the configuration directory used when none is given.
func DefaultDir(home string) string {
	return filepath.Join(home, ".config", "pipesh")
}

// Load loads the configuration from the directory. A missing config.yaml
// results in the defaults.
func Load(path string) (*Configuration, error) {
	// If given the path to a config.yaml file, move back up a level.
	if filepath.Base(path) == ConfigurationName {
		path = filepath.Dir(path)
	}

	return LoadFs(afero.NewBasePathFs(afero.NewOsFs(), path))
}

// LoadFs loads the configuration from the root of the filesystem.
func LoadFs(configFs afero.Fs) (*Configuration, error) {
	out := defaultConfig()

	configContents, err := afero.ReadFile(configFs, ConfigurationName)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Use defaults.
	case err != nil:
		return nil, err
	default:
		out = &Configuration{}
		if err := yaml.UnmarshalStrict(configContents, out); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ConfigurationName, err)
		}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigurationName, err)
	}

	out.configFs = configFs
	return out, nil
}

// Initialize creates the configuration directory with a default config.yaml
// if one doesn't already exist.
func Initialize(dir string, logger *log.Logger) error {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return InitializeFs(afero.NewBasePathFs(osFs, dir), logger)
}

// InitializeFs writes the default config.yaml to the root of the filesystem.
func InitializeFs(configFs afero.Fs, logger *log.Logger) error {
	exists, err := afero.Exists(configFs, ConfigurationName)
	if err != nil {
		return err
	}
	if exists {
		logger.Printf("%s already exists, leaving it untouched", ConfigurationName)
		return nil
	}

	logger.Printf("Writing %s", ConfigurationName)
	return afero.WriteFile(configFs, ConfigurationName, defaultConfigData, 0600)
}
