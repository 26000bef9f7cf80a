package r2

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

type initiateMultipartUploadResult struct {
	UploadID string `xml:"UploadId"`
}

type completeMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []completePart `xml:"Part"`
}

type completePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUploadResult struct {
	Location string `xml:"Location"`
	Key      string `xml:"Key"`
	ETag     string `xml:"ETag"`
}

// CreateMultipartUpload начинает multipart-загрузку и возвращает uploadId
func (c *Client) CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	var result initiateMultipartUploadResult
	err := c.doXML(ctx, request{
		method:  http.MethodPost,
		key:     key,
		query:   url.Values{"uploads": {""}},
		headers: map[string]string{"Content-Type": contentType},
	}, &result)
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s: %w", key, err)
	}
	if result.UploadID == "" {
		return "", fmt.Errorf("create multipart upload %s: empty upload id", key)
	}
	return result.UploadID, nil
}

// UploadPart загружает часть с номером partNumber (начиная с 1) и возвращает ее ETag
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body []byte) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", fmt.Errorf("%w: part number %d", apperrors.ErrUploadInvalidChunk, partNumber)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		key:    key,
		query: url.Values{
			"partNumber": {strconv.Itoa(partNumber)},
			"uploadId":   {uploadID},
		},
		body: body,
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d of %s: %w", partNumber, key, err)
	}
	defer drain(resp)

	return trimETag(resp.Header.Get("ETag")), nil
}

// CompleteMultipartUpload собирает объект из загруженных частей
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []interfaces.CompletedPart) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no parts to complete", apperrors.ErrUploadInvalidChunk)
	}

	payload := completeMultipartUpload{}
	for _, p := range sortParts(parts) {
		payload.Parts = append(payload.Parts, completePart{PartNumber: p.PartNumber, ETag: `"` + p.ETag + `"`})
	}

	body, err := xml.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode complete request: %w", err)
	}

	var result completeMultipartUploadResult
	err = c.doXML(ctx, request{
		method:  http.MethodPost,
		key:     key,
		query:   url.Values{"uploadId": {uploadID}},
		body:    body,
		headers: map[string]string{"Content-Type": "application/xml"},
	}, &result)
	if err != nil {
		return "", fmt.Errorf("complete multipart upload %s: %w", key, err)
	}

	return trimETag(result.ETag), nil
}

// AbortMultipartUpload отменяет загрузку. Уже отмененная загрузка не считается ошибкой
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		key:    key,
		query:  url.Values{"uploadId": {uploadID}},
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("abort multipart upload %s: %w", key, err)
	}
	drain(resp)
	return nil
}
