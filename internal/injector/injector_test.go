package injector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/system/analyzer"
)

func TestInitializeApp(t *testing.T) {
	cfg := config.Default()
	cfg.World.Name = "arena"
	cfg.World.Overlap = "intersect"
	cfg.Log.Level = "warn"

	app, err := InitializeApp(cfg)
	require.NoError(t, err)

	assert.Equal(t, "arena", app.World.Name())
	assert.Equal(t, analyzer.OverlapIntersect, app.World.Overlap())
	assert.Equal(t, log.LevelWarn, app.Logger.GetLevel())
	_, ok := app.World.Types().Key(components.RigidBodyName)
	assert.True(t, ok)
	assert.NotNil(t, app.Feed)
	assert.NotNil(t, app.Server)
}
