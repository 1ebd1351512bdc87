package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyscope/agencydir/internal/config"
)

func TestApplyDBFlagRoutesToSQLite(t *testing.T) {
	cfg = config.Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = "postgres://crawler@db/agencydir"

	path := filepath.Join(t.TempDir(), "override.db")
	cmd := &cobra.Command{}
	var flagVal string
	cmd.Flags().StringVar(&flagVal, "db", "", "")
	require.NoError(t, cmd.Flags().Set("db", path))

	applyDBFlag(cmd, flagVal)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, path, cfg.Store.Path)
}

func TestApplyDBFlagNoopWhenUnset(t *testing.T) {
	cfg = config.Config{}
	cfg.Store.Driver = "memory"

	cmd := &cobra.Command{}
	var flagVal string
	cmd.Flags().StringVar(&flagVal, "db", "", "")

	applyDBFlag(cmd, flagVal)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Empty(t, cfg.Store.Path)
}

func TestStoreCommandsRegisterDBFlag(t *testing.T) {
	for _, cmd := range []*cobra.Command{crawlCmd, exportCmd, statusCmd} {
		assert.NotNil(t, cmd.Flags().Lookup("db"), cmd.Use)
	}
}
