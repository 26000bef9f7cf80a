package interfaces

import (
	"context"
	"io"
	"time"
)

// TxRunner выполняет функцию внутри транзакции хранилища
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// ObjectInfo описывает объект в объектном хранилище
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// CompletedPart описывает загруженную часть multipart-загрузки
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// ObjectStorePort определяет интерфейс S3-совместимого объектного хранилища (R2)
type ObjectStorePort interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)

	// GetObject возвращает содержимое объекта. Вызывающий закрывает ReadCloser
	GetObject(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)

	// DeleteObject не возвращает ошибку, если объекта нет
	DeleteObject(ctx context.Context, key string) error

	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Методы multipart-загрузки

	CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, body []byte) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	// PresignGet возвращает временную ссылку на чтение объекта
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)

	// PublicURL возвращает публичный CDN-адрес объекта
	PublicURL(key string) string
}
