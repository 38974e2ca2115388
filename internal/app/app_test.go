package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dyet92k/morph/internal/executor/local"
	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/pkg/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	dir := t.TempDir()

	a, err := Build(context.Background(), env.Environment{
		Engine:       "local",
		DatabaseType: "sqlite",
		DatabaseDSN:  filepath.Join(dir, "morph.db"),
		DataRoot:     filepath.Join(dir, "data"),
		RepoRoot:     filepath.Join(dir, "repos"),
	})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &local.Executor{}, a.Executor)
	assert.NotNil(t, a.Runner)
	assert.True(t, a.DB.Migrator().HasTable(&models.Run{}))
}

func TestBuildUnknownEngine(t *testing.T) {
	_, err := Build(context.Background(), env.Environment{
		Engine:       "lxc",
		DatabaseType: "sqlite",
		DatabaseDSN:  filepath.Join(t.TempDir(), "morph.db"),
	})
	assert.Error(t, err)
}
