package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/config"
	"github.com/thatjpcsguy/printtrack/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(dir, "track.db")
	cfg.Blob.Dir = filepath.Join(dir, "blobs")
	cfg.Allocation.Strategy = "first"
	return &cfg
}

func TestOpen_RegisterAndProgress(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), Options{Logger: zap.NewNop(), HooksDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Boxes.Provision(ctx, 4, a.Config.Boxes.Prefix)
	require.NoError(t, err)

	reg, err := a.Production.ImportFile(ctx, "BRACKET_x2.stl", []byte("solid bracket"), a.Project(), a.DefaultStage())
	require.NoError(t, err)
	require.Len(t, reg.Units, 2)
	assert.Contains(t, reg.ModelURL, "file://")

	_, err = a.Units.Transition(ctx, reg.Units[0].ID, domain.StageAssembled)
	require.NoError(t, err)

	rows, err := a.Progress(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StagePrinted, rows[0].Stage)
	assert.Equal(t, []string{"BOX-02"}, rows[0].Boxes)
}

func TestOpen_InvalidSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Allocation.Mode = "shelf"
	_, err := Open(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.ErrorIs(t, err, domain.ErrValidation)

	cfg = testConfig(t)
	cfg.Import.DefaultStage = "BAKED"
	_, err = Open(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("WARN", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "console")
	require.Error(t, err)
}
