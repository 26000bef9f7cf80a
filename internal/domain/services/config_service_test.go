package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/minimall/internal/adapters/cache"
	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

type eventLog struct {
	mu     sync.Mutex
	events []messaging.Event
}

func (l *eventLog) handle(_ context.Context, msg *interfaces.Message) error {
	ev, err := messaging.DecodeEvent(msg.Value)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

type configFixture struct {
	svc    *ConfigService
	repo   *memRepo
	cache  *cache.RedisCache
	redis  *miniredis.Miniredis
	events *eventLog
}

func newConfigFixture(t *testing.T, opts ...ConfigServiceOption) *configFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), cache.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	log := logger.NewNop()
	bus := messaging.NewMemoryBus(log)
	events := &eventLog{}
	_, err = bus.Subscribe(context.Background(), "config-events", events.handle)
	require.NoError(t, err)

	repo := newMemRepo()
	opts = append([]ConfigServiceOption{
		WithSiteCache(rc, time.Minute),
		WithEvents(NewEventPublisher(bus, "config-events", "upload-events", log)),
	}, opts...)

	return &configFixture{
		svc:    NewConfigService(repo, directTx{}, log, opts...),
		repo:   repo,
		cache:  rc,
		redis:  mr,
		events: events,
	}
}

func TestCreateConfigStartsAsDraftVersionOne(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	input := feedConfig()
	input.ID = "client-chosen"
	input.Version = 42
	input.Status = models.StatusPublished

	cfg, err := f.svc.CreateConfig(ctx, "https://Demo.myshopify.com/", input, "u-1")
	require.NoError(t, err)

	assert.NotEqual(t, "client-chosen", cfg.ID)
	assert.Equal(t, testShop, cfg.ShopDomain)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, models.StatusDraft, cfg.Status)
	assert.Nil(t, cfg.PublishedAt)

	versions, err := f.svc.ListVersions(ctx, testShop, cfg.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "created", versions[0].ChangeNote)
	assert.Equal(t, "u-1", versions[0].CreatedBy)

	assert.Equal(t, []string{messaging.ConfigCreatedEvent}, f.events.types())
}

func TestCreateConfigRejectsInvalidInput(t *testing.T) {
	f := newConfigFixture(t)

	_, err := f.svc.CreateConfig(context.Background(), "not a shop", feedConfig(), "u-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	bad := feedConfig()
	bad.Categories[0].CardType = models.CardProduct
	bad.Categories[0].Items = nil
	_, err = f.svc.CreateConfig(context.Background(), testShop, bad, "u-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.CreateConfig(context.Background(), testShop, nil, "u-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUpdateConfigOptimisticLocking(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)

	edit := cfg.Clone()
	edit.Settings.SEO.Title = "Spring drop"
	updated, err := f.svc.UpdateConfig(ctx, testShop, cfg.ID, edit, 1, "u-2", "")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Spring drop", updated.Settings.SEO.Title)
	assert.True(t, cfg.CreatedAt.Equal(updated.CreatedAt))

	_, err = f.svc.UpdateConfig(ctx, testShop, cfg.ID, edit, 1, "u-3", "stale")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	stored, err := f.svc.GetConfig(ctx, testShop, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestUpdateConfigIgnoresClientStatus(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)

	edit := cfg.Clone()
	edit.Status = models.StatusPublished
	updated, err := f.svc.UpdateConfig(ctx, testShop, cfg.ID, edit, 0, "u-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, updated.Status)
	assert.Nil(t, updated.PublishedAt)
}

func TestGetConfigIsScopedToShop(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)

	_, err = f.svc.GetConfig(ctx, "other.myshopify.com", cfg.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPublishAndServeSiteFromCache(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetPublishedSite(ctx, testShop)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	cfg, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)
	published, err := f.svc.PublishConfig(ctx, testShop, cfg.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, published.Status)
	assert.Equal(t, 2, published.Version)
	require.NotNil(t, published.PublishedAt)

	site, err := f.svc.GetPublishedSite(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, published.ID, site.ID)
	assert.True(t, f.redis.Exists("shop:"+testShop+":site"))

	// повторное чтение берется из кэша даже при недоступной базе
	f.repo.failGet = errors.New("db down")
	site, err = f.svc.GetPublishedSite(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, 2, site.Version)
	f.repo.failGet = nil

	edit := published.Clone()
	edit.Settings.SEO.Title = "New title"
	updated, err := f.svc.UpdateConfig(ctx, testShop, cfg.ID, edit, 2, "u-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, updated.Status)
	assert.False(t, f.redis.Exists("shop:"+testShop+":site"))

	site, err = f.svc.GetPublishedSite(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, "New title", site.Settings.SEO.Title)

	assert.Equal(t, []string{
		messaging.ConfigCreatedEvent,
		messaging.ConfigPublishedEvent,
		messaging.ConfigUpdatedEvent,
	}, f.events.types())
}

func TestGetPublishedSiteFallsBackToMirror(t *testing.T) {
	mirrored := feedConfig()
	mirrored.ID = "mirrored"
	mirrored.ShopDomain = testShop
	mirrored.Status = models.StatusPublished

	f := newConfigFixture(t, WithPublishedMirror(stubMirror{site: mirrored}))
	f.repo.failGet = errors.New("db down")

	site, err := f.svc.GetPublishedSite(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, "mirrored", site.ID)

	_, err = f.svc.GetPublishedSite(context.Background(), "other.myshopify.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRestoreVersionKeepsPublishState(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)

	edit := cfg.Clone()
	edit.Categories = edit.Categories[:1]
	_, err = f.svc.UpdateConfig(ctx, testShop, cfg.ID, edit, 1, "u-1", "drop shop")
	require.NoError(t, err)
	_, err = f.svc.PublishConfig(ctx, testShop, cfg.ID, "u-1")
	require.NoError(t, err)

	restored, err := f.svc.RestoreVersion(ctx, testShop, cfg.ID, 1, "u-2")
	require.NoError(t, err)
	assert.Equal(t, 4, restored.Version)
	assert.Len(t, restored.Categories, 2)
	assert.Equal(t, models.StatusPublished, restored.Status)

	versions, err := f.svc.ListVersions(ctx, testShop, cfg.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "restored from version 1", versions[0].ChangeNote)
	assert.Equal(t, "published", versions[1].ChangeNote)

	_, err = f.svc.RestoreVersion(ctx, testShop, cfg.ID, 99, "u-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteConfig(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteConfig(ctx, testShop, cfg.ID))

	_, err = f.svc.GetConfig(ctx, testShop, cfg.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteConfig(ctx, testShop, cfg.ID), apperrors.ErrNotFound)
	assert.Contains(t, f.events.types(), messaging.ConfigDeletedEvent)
}

func TestConfigEventsCarryStatus(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	draft, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)
	live, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
	require.NoError(t, err)
	_, err = f.svc.PublishConfig(ctx, testShop, live.ID, "u-1")
	require.NoError(t, err)

	latest, err := f.svc.LatestPublished(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, live.ID, latest.ID)

	require.NoError(t, f.svc.DeleteConfig(ctx, testShop, draft.ID))
	require.NoError(t, f.svc.DeleteConfig(ctx, testShop, live.ID))

	var deleted []string
	f.events.mu.Lock()
	for _, ev := range f.events.events {
		if ev.Type == messaging.ConfigDeletedEvent {
			deleted = append(deleted, ev.Status)
		}
	}
	f.events.mu.Unlock()
	assert.Equal(t, []string{string(models.StatusDraft), string(models.StatusPublished)}, deleted)

	_, err = f.svc.LatestPublished(ctx, testShop)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListConfigsAndInvalidateCache(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateConfig(ctx, testShop, feedConfig(), "u-1")
		require.NoError(t, err)
	}

	page, total, err := f.svc.ListConfigs(ctx, testShop, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	require.NoError(t, f.cache.SetWithShop(ctx, "product:tee", []byte("{}"), testShop, time.Minute))
	require.NoError(t, f.cache.SetWithShop(ctx, "product:tee", []byte("{}"), "other.myshopify.com", time.Minute))
	require.NoError(t, f.svc.InvalidateCache(ctx, testShop))

	assert.False(t, f.redis.Exists("shop:"+testShop+":product:tee"))
	assert.True(t, f.redis.Exists("shop:other.myshopify.com:product:tee"))
}
