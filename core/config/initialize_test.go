package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "pipesh")
	if err := Initialize(tempDir, log.New(io.Discard, "", 0)); err != nil {
		t.Fatal(err)
	}

	// Check that the config is valid
	cfg, err := Load(filepath.Join(tempDir, ConfigurationName))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, defaultConfig().DefaultPath, cfg.DefaultPath)

	t.Run("OpenEventLog", func(t *testing.T) {
		fd, err := cfg.OpenEventLog()
		assert.Nil(t, err)
		fd.Close()

		_, err = os.Stat(filepath.Join(tempDir, EventLogName))
		assert.Nil(t, err)
	})

	t.Run("keeps existing config", func(t *testing.T) {
		path := filepath.Join(tempDir, ConfigurationName)
		require.NoError(t, os.WriteFile(path, []byte("color: never\ndefault_path: /bin\n"), 0600))
		require.NoError(t, Initialize(tempDir, log.New(io.Discard, "", 0)))

		cfg, err := Load(tempDir)
		require.NoError(t, err)
		assert.Equal(t, ColorNever, cfg.Color)
	})
}

func TestDefaultDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/gopher", ".config", "pipesh"), DefaultDir("/home/gopher"))
}
