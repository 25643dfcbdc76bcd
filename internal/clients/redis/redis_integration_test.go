package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/featurepulse-backend/internal/events"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

func integrationClient(t *testing.T) Config {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping redis integration test")
	}
	return Config{Addr: addr, Channel: "featurepulse.test." + uuid.NewString(), KeyPrefix: "featurepulse-test"}
}

func TestContextCacheRoundTrip(t *testing.T) {
	cfg := integrationClient(t)
	ctx := context.Background()
	rdb, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer rdb.Close()

	cache := NewContextCache(rdb, time.Minute, cfg.KeyPrefix, logger.Nop())
	ws := uuid.New()
	_, ok := cache.GetExtractionContext(ctx, ws)
	assert.False(t, ok)

	want := &classify.ExtractionContext{
		Themes:   []classify.ThemeRef{{Name: "Reporting"}},
		Features: []classify.FeatureRef{{Name: "CSV export"}},
	}
	cache.SetExtractionContext(ctx, ws, want)
	got, ok := cache.GetExtractionContext(ctx, ws)
	require.True(t, ok)
	assert.Equal(t, want.Themes[0].Name, got.Themes[0].Name)
	assert.Equal(t, want.Features[0].Name, got.Features[0].Name)

	require.NoError(t, cache.Invalidate(ctx, ws))
	_, ok = cache.GetExtractionContext(ctx, ws)
	assert.False(t, ok)
}

func TestEventBusDelivers(t *testing.T) {
	cfg := integrationClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer rdb.Close()

	bus := NewEventBus(rdb, cfg.Channel, logger.Nop())
	got := make(chan events.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, func(ev events.Event) { got <- ev }))

	jobID := uuid.New()
	require.NoError(t, bus.Publish(ctx, events.Event{Type: events.TypeStageCompleted, JobID: jobID, JobType: "content_score"}))

	select {
	case ev := <-got:
		assert.Equal(t, jobID, ev.JobID)
		assert.Equal(t, events.TypeStageCompleted, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNilCacheMisses(t *testing.T) {
	var c *ContextCache
	_, ok := c.GetExtractionContext(context.Background(), uuid.New())
	assert.False(t, ok)
	c.SetExtractionContext(context.Background(), uuid.New(), &classify.ExtractionContext{})
}
