package r2

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// fakeS3 минимальная реализация S3 API для тестов клиента
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	uploads map[string]map[int][]byte
	failN   int32 // сколько первых запросов ответить 503
	calls   int32
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		uploads: make(map[string]map[int][]byte),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failN) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `<Error><Code>SlowDown</Code><Message>try later</Message></Error>`)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 Credential=key/") {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<Error><Code>AccessDenied</Code></Error>`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	q := r.URL.Query()
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/bucket":
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, q.Get("prefix")) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		fmt.Fprint(w, `<ListBucketResult>`)
		for _, k := range keys {
			fmt.Fprintf(w, `<Contents><Key>%s</Key><Size>%d</Size><ETag>"e"</ETag><LastModified>2024-01-02T03:04:05.000Z</LastModified></Contents>`, k, len(f.objects[k]))
		}
		fmt.Fprint(w, `<IsTruncated>false</IsTruncated></ListBucketResult>`)

	case r.Method == http.MethodPost && q.Has("uploads"):
		id := fmt.Sprintf("up-%d", len(f.uploads)+1)
		f.uploads[id] = make(map[int][]byte)
		f.types[key] = r.Header.Get("Content-Type")
		fmt.Fprintf(w, `<InitiateMultipartUploadResult><UploadId>%s</UploadId></InitiateMultipartUploadResult>`, id)

	case r.Method == http.MethodPut && q.Has("uploadId"):
		parts, ok := f.uploads[q.Get("uploadId")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchUpload</Code></Error>`)
			return
		}
		var pn int
		fmt.Sscanf(q.Get("partNumber"), "%d", &pn)
		parts[pn] = body
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, pn))

	case r.Method == http.MethodPost && q.Has("uploadId"):
		parts, ok := f.uploads[q.Get("uploadId")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchUpload</Code></Error>`)
			return
		}
		var req completeMultipartUpload
		if err := xml.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var data []byte
		for _, p := range req.Parts {
			data = append(data, parts[p.PartNumber]...)
		}
		f.objects[key] = data
		delete(f.uploads, q.Get("uploadId"))
		fmt.Fprint(w, `<CompleteMultipartUploadResult><ETag>"final"</ETag></CompleteMultipartUploadResult>`)

	case r.Method == http.MethodDelete && q.Has("uploadId"):
		if _, ok := f.uploads[q.Get("uploadId")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchUpload</Code></Error>`)
			return
		}
		delete(f.uploads, q.Get("uploadId"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPut:
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"put-etag"`)

	case r.Method == http.MethodGet, r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Header().Set("ETag", `"get-etag"`)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}

	case r.Method == http.MethodDelete:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, fake *fakeS3) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint:        srv.URL,
		Bucket:          "bucket",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicURL:       "https://cdn.example.com/",
		MaxRetries:      2,
	}, logger.NewNop())
	require.NoError(t, err)
	return c
}

func TestPutGetHeadDelete(t *testing.T) {
	fake := newFakeS3()
	c := newTestClient(t, fake)
	ctx := context.Background()

	etag, err := c.PutObject(ctx, "uploads/a b.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "put-etag", etag)
	assert.Contains(t, fake.objects, "uploads/a b.txt")

	body, info, err := c.GetObject(ctx, "uploads/a b.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, int64(5), info.Size)

	head, err := c.HeadObject(ctx, "uploads/a b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), head.Size)

	require.NoError(t, c.DeleteObject(ctx, "uploads/a b.txt"))
	// повторное удаление не ошибка
	require.NoError(t, c.DeleteObject(ctx, "uploads/a b.txt"))

	_, _, err = c.GetObject(ctx, "uploads/a b.txt")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NoSuchKey", apiErr.Code)

	_, err = c.HeadObject(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMultipartUpload(t *testing.T) {
	fake := newFakeS3()
	c := newTestClient(t, fake)
	ctx := context.Background()

	id, err := c.CreateMultipartUpload(ctx, "video.mp4", "video/mp4")
	require.NoError(t, err)

	e2, err := c.UploadPart(ctx, "video.mp4", id, 2, []byte("world"))
	require.NoError(t, err)
	e1, err := c.UploadPart(ctx, "video.mp4", id, 1, []byte("hello "))
	require.NoError(t, err)

	etag, err := c.CompleteMultipartUpload(ctx, "video.mp4", id, []interfaces.CompletedPart{
		{PartNumber: 2, ETag: e2},
		{PartNumber: 1, ETag: e1},
	})
	require.NoError(t, err)
	assert.Equal(t, "final", etag)
	assert.Equal(t, "hello world", string(fake.objects["video.mp4"]))

	// отмена завершенной загрузки не ошибка
	assert.NoError(t, c.AbortMultipartUpload(ctx, "video.mp4", id))

	_, err = c.UploadPart(ctx, "video.mp4", id, 0, nil)
	assert.ErrorIs(t, err, apperrors.ErrUploadInvalidChunk)
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	fake := newFakeS3()
	fake.failN = 2
	c := newTestClient(t, fake)

	_, err := c.PutObject(context.Background(), "k", []byte("v"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fake.calls))
}

func TestRetryGivesUp(t *testing.T) {
	fake := newFakeS3()
	fake.failN = 10
	c := newTestClient(t, fake)

	_, err := c.PutObject(context.Background(), "k", []byte("v"), "text/plain")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "SlowDown", apiErr.Code)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fake.calls))
}

func TestPublicAndPresignedURLs(t *testing.T) {
	c, err := NewClient(Config{
		Endpoint:        "https://acc.r2.cloudflarestorage.com/",
		Bucket:          "media",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicURL:       "https://cdn.example.com/",
	}, logger.NewNop(), WithClock(func() time.Time { return exampleTime }))
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/uploads/a%20b.jpg", c.PublicURL("uploads/a b.jpg"))

	u, err := c.PresignGet(context.Background(), "uploads/a.jpg", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://acc.r2.cloudflarestorage.com/media/uploads/a.jpg?X-Amz-Algorithm=AWS4-HMAC-SHA256"))
	assert.Contains(t, u, "X-Amz-Credential=key%2F20130524%2Fauto%2Fs3%2Faws4_request")
	assert.Contains(t, u, "X-Amz-Expires=3600")
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "acc.r2.cloudflarestorage.com", "https://", "https://acc.r2.cloud\x7f", "ftp://host"} {
		_, err := NewClient(Config{Endpoint: endpoint, Bucket: "media"}, logger.NewNop())
		assert.Error(t, err, endpoint)
	}
}

func TestConfigStore(t *testing.T) {
	fake := newFakeS3()
	store := NewConfigStore(newTestClient(t, fake), logger.NewNop())
	ctx := context.Background()

	cfg := &models.SiteConfig{ID: "cfg-1", ShopDomain: "demo.myshopify.com", Version: 3}
	require.NoError(t, store.Save(ctx, cfg))
	require.NoError(t, store.SavePublished(ctx, cfg))
	assert.Contains(t, fake.objects, "configs/cfg-1.json")
	assert.Contains(t, fake.objects, "published/demo.myshopify.com.json")

	loaded, err := store.Load(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Version)

	published, err := store.LoadPublished(ctx, "demo.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "cfg-1", published.ID)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg-1"}, ids)

	require.NoError(t, store.DeletePublished(ctx, "demo.myshopify.com"))
	_, err = store.LoadPublished(ctx, "demo.myshopify.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "cfg-1"))
	_, err = store.Load(ctx, "cfg-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
