package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/minimall/internal/adapters/cloudinary"
	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const shop = "demo.myshopify.com"

type fakeConfigs struct {
	configs     map[string]*models.SiteConfig
	invalidated []string
	failInval   error
}

func (f *fakeConfigs) LatestPublished(_ context.Context, shopDomain string) (*models.SiteConfig, error) {
	var latest *models.SiteConfig
	for _, cfg := range f.configs {
		if cfg.ShopDomain != shopDomain || cfg.Status != models.StatusPublished {
			continue
		}
		if latest == nil || cfg.Version > latest.Version {
			latest = cfg
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	return latest, nil
}

func (f *fakeConfigs) InvalidateCache(_ context.Context, shopDomain string) error {
	if f.failInval != nil {
		return f.failInval
	}
	f.invalidated = append(f.invalidated, shopDomain)
	return nil
}

type fakeMirror struct {
	saved   []*models.SiteConfig
	deleted []string
}

func (f *fakeMirror) SavePublished(_ context.Context, cfg *models.SiteConfig) error {
	f.saved = append(f.saved, cfg)
	return nil
}

func (f *fakeMirror) DeletePublished(_ context.Context, shopDomain string) error {
	f.deleted = append(f.deleted, shopDomain)
	return nil
}

type fakeMedia struct {
	enabled bool
	urls    []string
	folders []string
	err     error
}

func (f *fakeMedia) Enabled() bool { return f.enabled }

func (f *fakeMedia) UploadFromURL(_ context.Context, fileURL, folder string) (*cloudinary.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.urls = append(f.urls, fileURL)
	f.folders = append(f.folders, folder)
	return &cloudinary.Asset{PublicID: "minimall/" + shop + "/a"}, nil
}

func message(t *testing.T, topic string, ev messaging.Event) *interfaces.Message {
	t.Helper()
	data, err := ev.Encode()
	require.NoError(t, err)
	return &interfaces.Message{ID: ev.ID, Topic: topic, Value: data}
}

func newTestProcessor(configs *fakeConfigs, mirror *fakeMirror, media *fakeMedia) (*Processor, *metrics) {
	p := NewProcessor(configs, logger.NewNop(), prometheus.NewRegistry(),
		WithMirror(mirror), WithMedia(media, "minimall"))
	return p, p.metrics
}

func configEvent(eventType messaging.EventType, id string, version int, status models.ConfigStatus) messaging.Event {
	ev := messaging.NewConfigEvent(eventType, shop, id, version)
	ev.Status = string(status)
	return ev
}

func TestPublishedConfigIsMirrored(t *testing.T) {
	configs := &fakeConfigs{configs: map[string]*models.SiteConfig{
		"c1": {ID: "c1", ShopDomain: shop, Version: 3, Status: models.StatusPublished},
		"c2": {ID: "c2", ShopDomain: shop, Version: 1, Status: models.StatusDraft},
	}}
	mirror := &fakeMirror{}
	p, m := newTestProcessor(configs, mirror, &fakeMedia{})
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, message(t, "config", configEvent(messaging.ConfigPublishedEvent, "c1", 3, models.StatusPublished))))
	// правка черновика и создание зеркало не трогают
	require.NoError(t, p.Handle(ctx, message(t, "config", configEvent(messaging.ConfigUpdatedEvent, "c2", 2, models.StatusDraft))))
	require.NoError(t, p.Handle(ctx, message(t, "config", configEvent(messaging.ConfigCreatedEvent, "c2", 1, models.StatusDraft))))

	require.Len(t, mirror.saved, 1)
	assert.Equal(t, "c1", mirror.saved[0].ID)
	assert.Empty(t, mirror.deleted)
	assert.Equal(t, []string{shop, shop, shop}, configs.invalidated)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.processed.WithLabelValues("config", "success")))
}

func TestDeletedDraftKeepsMirror(t *testing.T) {
	configs := &fakeConfigs{configs: map[string]*models.SiteConfig{
		"live": {ID: "live", ShopDomain: shop, Version: 4, Status: models.StatusPublished},
	}}
	mirror := &fakeMirror{}
	p, _ := newTestProcessor(configs, mirror, &fakeMedia{})

	require.NoError(t, p.Handle(context.Background(),
		message(t, "config", configEvent(messaging.ConfigDeletedEvent, "draft-1", 1, models.StatusDraft))))

	assert.Empty(t, mirror.deleted)
	assert.Empty(t, mirror.saved)
	assert.Equal(t, []string{shop}, configs.invalidated)
}

func TestDeletedPublishedConfigFallsBackToPrevious(t *testing.T) {
	configs := &fakeConfigs{configs: map[string]*models.SiteConfig{
		"old": {ID: "old", ShopDomain: shop, Version: 2, Status: models.StatusPublished},
	}}
	mirror := &fakeMirror{}
	p, _ := newTestProcessor(configs, mirror, &fakeMedia{})

	// удаленной "live" в базе уже нет, действующей становится "old"
	require.NoError(t, p.Handle(context.Background(),
		message(t, "config", configEvent(messaging.ConfigDeletedEvent, "live", 5, models.StatusPublished))))

	require.Len(t, mirror.saved, 1)
	assert.Equal(t, "old", mirror.saved[0].ID)
	assert.Empty(t, mirror.deleted)
}

func TestDeletedLastPublishedConfigDropsMirror(t *testing.T) {
	configs := &fakeConfigs{}
	mirror := &fakeMirror{}
	p, _ := newTestProcessor(configs, mirror, &fakeMedia{})

	// событие без статуса обрабатывается как затрагивающее сайт
	require.NoError(t, p.Handle(context.Background(), message(t, "config", messaging.NewConfigEvent(messaging.ConfigDeletedEvent, shop, "c1", 0))))
	assert.Equal(t, []string{shop}, mirror.deleted)
	assert.Equal(t, []string{shop}, configs.invalidated)
}

func TestFailuresAreReturnedForRetry(t *testing.T) {
	configs := &fakeConfigs{failInval: errors.New("redis down")}
	p, m := newTestProcessor(configs, &fakeMirror{}, &fakeMedia{})

	err := p.Handle(context.Background(), message(t, "config", messaging.NewConfigEvent(messaging.ConfigUpdatedEvent, shop, "c1", 2)))
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("config", "error")))
}

func TestInvalidAndUnknownMessagesAreDropped(t *testing.T) {
	p, m := newTestProcessor(&fakeConfigs{}, &fakeMirror{}, &fakeMedia{})
	ctx := context.Background()

	assert.NoError(t, p.Handle(ctx, &interfaces.Message{Topic: "config", Value: []byte("{not json")}))
	assert.NoError(t, p.Handle(ctx, &interfaces.Message{Topic: "config", Value: []byte(`{"type":"config.archived"}`)}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("config", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("config", "unknown")))
}

func TestUploadedImagesArePushedToCloudinary(t *testing.T) {
	media := &fakeMedia{enabled: true}
	p, _ := newTestProcessor(&fakeConfigs{}, &fakeMirror{}, media)
	ctx := context.Background()

	image := messaging.NewUploadEvent(shop, messaging.UploadPayload{
		UploadID: "u1", URL: "https://cdn.example.com/uploads/a.jpg", ContentType: "image/jpeg", Size: 10,
	})
	video := messaging.NewUploadEvent(shop, messaging.UploadPayload{
		UploadID: "u2", URL: "https://cdn.example.com/uploads/b.mp4", ContentType: "video/mp4", Size: 10,
	})

	require.NoError(t, p.Handle(ctx, message(t, "upload", image)))
	require.NoError(t, p.Handle(ctx, message(t, "upload", video)))

	assert.Equal(t, []string{"https://cdn.example.com/uploads/a.jpg"}, media.urls)
	assert.Equal(t, []string{"minimall/" + shop}, media.folders)

	media.err = errors.New("cloudinary down")
	assert.Error(t, p.Handle(ctx, message(t, "upload", image)))

	media.enabled = false
	assert.NoError(t, p.Handle(ctx, message(t, "upload", image)))
}

func TestProcessorOnMemoryBus(t *testing.T) {
	log := logger.NewNop()
	bus := messaging.NewMemoryBus(log)
	configs := &fakeConfigs{configs: map[string]*models.SiteConfig{
		"c1": {ID: "c1", ShopDomain: shop, Version: 2, Status: models.StatusPublished},
	}}
	mirror := &fakeMirror{}
	p := NewProcessor(configs, log, nil, WithMirror(mirror))

	unsubscribe, err := bus.Subscribe(context.Background(), "config", p.Handle)
	require.NoError(t, err)
	defer unsubscribe()

	data, err := configEvent(messaging.ConfigPublishedEvent, "c1", 2, models.StatusPublished).Encode()
	require.NoError(t, err)
	require.NoError(t, bus.PublishWithKey(context.Background(), "config", shop, data))

	require.Len(t, mirror.saved, 1)
}
