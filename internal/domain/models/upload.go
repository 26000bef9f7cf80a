package models

import (
	"sort"
	"time"

	"github.com/athebyme/minimall/pkg/interfaces"
)

// UploadSession состояние chunked-загрузки, сопоставленной с multipart-загрузкой R2
type UploadSession struct {
	ID          string         `json:"id"`
	ShopDomain  string         `json:"shop_domain"`
	Key         string         `json:"key"`
	R2UploadID  string         `json:"r2_upload_id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	TotalSize   int64          `json:"total_size"`
	ChunkSize   int64          `json:"chunk_size"`
	TotalChunks int            `json:"total_chunks"`
	Parts       map[int]string `json:"parts"` // индекс чанка -> ETag части
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ExpectedChunkSize размер чанка с индексом index. Последний может быть меньше
func (s *UploadSession) ExpectedChunkSize(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.TotalSize - int64(s.TotalChunks-1)*s.ChunkSize
	}
	return s.ChunkSize
}

// ReceivedChunks количество принятых чанков
func (s *UploadSession) ReceivedChunks() int {
	return len(s.Parts)
}

// IsComplete все ли чанки приняты
func (s *UploadSession) IsComplete() bool {
	return len(s.Parts) == s.TotalChunks
}

// CompletedParts части для CompleteMultipartUpload в порядке номеров
func (s *UploadSession) CompletedParts() []interfaces.CompletedPart {
	parts := make([]interfaces.CompletedPart, 0, len(s.Parts))
	for idx, etag := range s.Parts {
		parts = append(parts, interfaces.CompletedPart{PartNumber: idx + 1, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts
}

// UploadResult итог завершенной загрузки
type UploadResult struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// UploadProgress ответ на прием чанка или запрос статуса
type UploadProgress struct {
	UploadID       string        `json:"upload_id"`
	ReceivedChunks int           `json:"received_chunks"`
	TotalChunks    int           `json:"total_chunks"`
	Completed      bool          `json:"completed"`
	Result         *UploadResult `json:"result,omitempty"`
}
