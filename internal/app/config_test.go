package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG_PATH", "")
	cfg, err := LoadConfig(logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, feedback.DefaultSettings(), cfg.Pipeline)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, cfg.Pipeline.StaleAfter, cfg.Worker.StaleRunning)
	assert.Equal(t, cfg.Pipeline.MaxInFlight, cfg.Gateway.MaxInFlight)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	body := "tier1_batch_size: 7\nrelevance_threshold: 0.5\nstale_lock_timeout: 45m\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("PIPELINE_CONFIG_PATH", path)
	t.Setenv("RELEVANCE_THRESHOLD", "0.8")

	cfg, err := LoadConfig(logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.Tier1BatchSize)
	assert.InDelta(t, 0.8, cfg.Pipeline.RelevanceThreshold, 1e-9)
	assert.Equal(t, 45*time.Minute, cfg.Pipeline.StaleAfter)
	assert.Equal(t, feedback.DefaultSettings().Tier2BatchSize, cfg.Pipeline.Tier2BatchSize)
}

func TestLoadConfigStaleMinutesEnv(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG_PATH", "")
	t.Setenv("STALE_LOCK_TIMEOUT_MINUTES", "10")
	cfg, err := LoadConfig(logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.StaleAfter)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig(logger.Nop())
	require.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
