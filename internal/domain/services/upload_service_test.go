package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/athebyme/minimall/internal/adapters/cache"
	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
)

var testUploadConfig = UploadConfig{
	MaxFileSize:         100,
	MinChunkSize:        4,
	MaxChunkSize:        8,
	SessionTTL:          time.Minute,
	AllowedContentTypes: []string{"image/*", "video/mp4"},
}

type uploadFixture struct {
	svc     *UploadService
	objects *memObjects
	store   *MemorySessionStore
	events  *eventLog
}

func newUploadFixture(t *testing.T, cfg UploadConfig) *uploadFixture {
	t.Helper()
	log := logger.NewNop()
	bus := messaging.NewMemoryBus(log)
	events := &eventLog{}
	_, err := bus.Subscribe(context.Background(), "upload-events", events.handle)
	require.NoError(t, err)

	f := &uploadFixture{objects: newMemObjects(), events: events}
	// svc назначается ниже, onExpire вызывается только из Sweep
	f.store = NewMemorySessionStore(0, func(s *models.UploadSession) { f.svc.ExpireSession(s) })
	f.svc = NewUploadService(f.objects, f.store, cache.NewKeyedMutex(), cfg,
		NewEventPublisher(bus, "config-events", "upload-events", log), log, prometheus.NewRegistry())
	return f
}

func TestChunkedUploadCompletesOnLastChunk(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "Photo.JPG", "image/jpeg; charset=binary", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), session.ChunkSize)
	assert.Equal(t, 3, session.TotalChunks)
	assert.Equal(t, "image/jpeg", session.ContentType)
	assert.Regexp(t, regexp.MustCompile(`^uploads/demo\.myshopify\.com/\d{4}/\d{2}/[0-9a-f-]{36}\.jpg$`), session.Key)

	// чанки могут приходить в любом порядке
	progress, err := f.svc.UploadChunk(ctx, session.ID, 2, []byte("89"))
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ReceivedChunks)
	assert.False(t, progress.Completed)

	_, err = f.svc.UploadChunk(ctx, session.ID, 0, []byte("012"))
	assert.ErrorIs(t, err, apperrors.ErrUploadInvalidChunk)
	_, err = f.svc.UploadChunk(ctx, session.ID, 3, []byte("0123"))
	assert.ErrorIs(t, err, apperrors.ErrUploadInvalidChunk)

	_, err = f.svc.UploadChunk(ctx, session.ID, 0, []byte("0123"))
	require.NoError(t, err)

	status, err := f.svc.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ReceivedChunks)
	assert.Equal(t, 3, status.TotalChunks)

	progress, err = f.svc.UploadChunk(ctx, session.ID, 1, []byte("4567"))
	require.NoError(t, err)
	require.True(t, progress.Completed)
	require.NotNil(t, progress.Result)
	assert.Equal(t, "https://cdn.example.com/"+session.Key, progress.Result.URL)
	assert.Equal(t, int64(10), progress.Result.Size)

	body, ok := f.objects.object(session.Key)
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(body))

	_, err = f.svc.Status(ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrUploadNotFound)

	assert.Equal(t, []string{messaging.UploadCompletedEvent}, f.events.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.sessions.WithLabelValues("completed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(f.svc.metrics.bytes))
}

func TestInitiateValidation(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	tests := []struct {
		name        string
		shop        string
		contentType string
		total       int64
		chunk       int64
		want        error
	}{
		{"bad shop", "not a shop", "image/png", 10, 0, apperrors.ErrValidation},
		{"content type", testShop, "application/pdf", 10, 0, apperrors.ErrUploadContentType},
		{"malformed content type", testShop, "", 10, 0, apperrors.ErrUploadContentType},
		{"empty file", testShop, "image/png", 0, 0, apperrors.ErrValidation},
		{"too large", testShop, "video/mp4", 101, 0, apperrors.ErrUploadTooLarge},
		{"chunk too big", testShop, "image/png", 50, 9, apperrors.ErrValidation},
		{"chunk too small", testShop, "image/png", 50, 3, apperrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Initiate(ctx, tt.shop, "file.png", tt.contentType, tt.total, tt.chunk)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestSmallFileIsSingleChunk(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "dot.gif", "image/gif", 3, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(3), session.ChunkSize)
	assert.Equal(t, 1, session.TotalChunks)

	progress, err := f.svc.UploadChunk(ctx, session.ID, 0, []byte("gif"))
	require.NoError(t, err)
	assert.True(t, progress.Completed)
}

func TestUploadPartFailureKeepsSession(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "a.png", "image/png", 4, 4)
	require.NoError(t, err)

	f.objects.failParts = true
	_, err = f.svc.UploadChunk(ctx, session.ID, 0, []byte("abcd"))
	require.Error(t, err)

	f.objects.failParts = false
	progress, err := f.svc.UploadChunk(ctx, session.ID, 0, []byte("abcd"))
	require.NoError(t, err)
	assert.True(t, progress.Completed)
}

func TestParallelChunksDoNotWaitForEachOther(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "clip.mp4", "video/mp4", 12, 4)
	require.NoError(t, err)
	require.Equal(t, 3, session.TotalChunks)

	// загрузка части в R2 дольше, чем ожидание блокировки
	f.objects.partDelay = 200 * time.Millisecond
	f.svc.lockWait = 50 * time.Millisecond

	chunks := []string{"0123", "4567", "89ab"}
	progress := make([]*models.UploadProgress, len(chunks))
	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			p, err := f.svc.UploadChunk(ctx, session.ID, i, []byte(chunk))
			progress[i] = p
			return err
		})
	}
	require.NoError(t, g.Wait())

	completed := 0
	for _, p := range progress {
		if p.Completed {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Greater(t, f.objects.maxFlight, 1)

	body, ok := f.objects.object(session.Key)
	require.True(t, ok)
	assert.Equal(t, "0123456789ab", string(body))
	assert.Equal(t, []string{messaging.UploadCompletedEvent}, f.events.types())
}

func TestChunkForVanishedSessionIsRejected(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "a.png", "image/png", 8, 4)
	require.NoError(t, err)

	f.objects.partDelay = 100 * time.Millisecond
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.UploadChunk(ctx, session.ID, 0, []byte("abcd"))
		done <- err
	}()

	// сессия истекает, пока часть еще грузится
	require.Eventually(t, func() bool {
		f.objects.mu.Lock()
		defer f.objects.mu.Unlock()
		return f.objects.inflight == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.store.Delete(ctx, session.ID))

	assert.ErrorIs(t, <-done, apperrors.ErrUploadNotFound)
	_, err = f.svc.Status(ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrUploadNotFound)
}

func TestCancelAbortsMultipartUpload(t *testing.T) {
	f := newUploadFixture(t, testUploadConfig)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "a.png", "image/png", 8, 4)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, session.ID))
	assert.Equal(t, []string{session.R2UploadID}, f.objects.abortedUploads())

	_, err = f.svc.UploadChunk(ctx, session.ID, 0, []byte("abcd"))
	assert.ErrorIs(t, err, apperrors.ErrUploadNotFound)
	assert.ErrorIs(t, f.svc.Cancel(ctx, session.ID), apperrors.ErrUploadNotFound)
}

func TestExpiredSessionsAreAborted(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testUploadConfig
	cfg.SessionTTL = 20 * time.Millisecond
	f := newUploadFixture(t, cfg)
	ctx := context.Background()

	session, err := f.svc.Initiate(ctx, testShop, "a.png", "image/png", 8, 4)
	require.NoError(t, err)
	kept, err := f.svc.Initiate(ctx, testShop, "b.png", "image/png", 8, 4)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, kept.ID))

	time.Sleep(50 * time.Millisecond)
	f.store.Sweep()

	assert.Equal(t, 0, f.store.Len())
	assert.ElementsMatch(t, []string{kept.R2UploadID, session.R2UploadID}, f.objects.abortedUploads())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.sessions.WithLabelValues("expired")))

	_, err = f.svc.Status(ctx, session.ID)
	assert.ErrorIs(t, err, apperrors.ErrUploadNotFound)
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), cache.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	store := NewRedisSessionStore(rc)
	ctx := context.Background()

	session := &models.UploadSession{
		ID:          "s1",
		ShopDomain:  testShop,
		TotalChunks: 2,
		Parts:       map[int]string{0: "etag-1"},
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "etag-1", got.Parts[0])

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, apperrors.ErrUploadNotFound)

	expired := *session
	expired.ExpiresAt = time.Now().Add(-time.Second)
	assert.ErrorIs(t, store.Save(ctx, &expired), apperrors.ErrUploadNotFound)
}
