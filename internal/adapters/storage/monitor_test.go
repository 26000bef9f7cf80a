package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/athebyme/minimall/internal/adapters/logger"
)

func TestQueryMonitorTracksStatsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueryMonitor(reg, logger.NewNop(), 0, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Track(ctx, "configs.get", func() error { return nil }))
	}
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track(ctx, "configs.save", func() error { return boom }), boom)
	// отсутствие строки не считается ошибкой
	assert.ErrorIs(t, m.Track(ctx, "configs.get", func() error { return pgx.ErrNoRows }), pgx.ErrNoRows)

	top := m.Top(1)
	require.Len(t, top, 1)
	assert.Equal(t, "configs.get", top[0].Name)
	assert.Equal(t, int64(4), top[0].Count)
	assert.Zero(t, top[0].Errors)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("configs.save")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestQueryMonitorEvictsLeastUsed(t *testing.T) {
	m := NewQueryMonitor(prometheus.NewRegistry(), logger.NewNop(), 0, 2)
	ctx := context.Background()
	noop := func() error { return nil }

	_ = m.Track(ctx, "hot", noop)
	_ = m.Track(ctx, "hot", noop)
	_ = m.Track(ctx, "cold", noop)
	_ = m.Track(ctx, "new", noop)

	names := map[string]bool{}
	for _, s := range m.Top(0) {
		names[s.Name] = true
	}
	assert.Equal(t, map[string]bool{"hot": true, "new": true}, names)
}

func TestQueryMonitorLogsSlowQueries(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewQueryMonitor(prometheus.NewRegistry(), logger.NewFromZap(zap.New(core)), time.Millisecond, 4)

	_ = m.Track(context.Background(), "slow", func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "slow", logs.All()[0].ContextMap()["query"])
}

func TestNilMonitorAndCache(t *testing.T) {
	var m *QueryMonitor
	called := false
	require.NoError(t, m.Track(context.Background(), "x", func() error { called = true; return nil }))
	assert.True(t, called)
	assert.Nil(t, m.Top(5))

	var c *QueryCache
	c.Set("k", 1)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.InvalidatePrefix("k"))
}

func TestQueryCacheInvalidatePrefixAndTTL(t *testing.T) {
	c := NewQueryCache(8, 50*time.Millisecond)
	c.Set(c.Key("shop|a|config", "1"), "one")
	c.Set(c.Key("shop|a|published"), "two")
	c.Set(c.Key("shop|b|config", "1"), "three")

	assert.Equal(t, "shop|a|config|1", c.Key("shop|a|config", "1"))
	assert.Equal(t, 2, c.InvalidatePrefix("shop|a|"))

	v, ok := c.Get("shop|b|config|1")
	require.True(t, ok)
	assert.Equal(t, "three", v)

	time.Sleep(120 * time.Millisecond)
	_, ok = c.Get("shop|b|config|1")
	assert.False(t, ok)
}
