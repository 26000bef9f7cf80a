package r2

import (
	"encoding/xml"
	"fmt"
	"net/http"

	apperrors "github.com/athebyme/minimall/pkg/errors"
)

// Error ошибка S3 API, разобранная из XML-ответа
type Error struct {
	StatusCode int
	Code       string `xml:"Code"`
	Message    string `xml:"Message"`
	RequestID  string `xml:"RequestId"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("r2: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("r2: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap позволяет проверять отсутствие объекта через errors.Is(err, ErrNotFound)
func (e *Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound,
		e.Code == "NoSuchKey",
		e.Code == "NoSuchUpload":
		return apperrors.ErrNotFound
	default:
		return nil
	}
}

// Retryable сообщает, имеет ли смысл повторить запрос
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// parseError разбирает тело ответа с ошибкой. Тело может быть пустым (HEAD)
func parseError(statusCode int, body []byte) *Error {
	e := &Error{StatusCode: statusCode}
	if len(body) > 0 {
		_ = xml.Unmarshal(body, e)
	}
	if e.Code == "" {
		e.Code = http.StatusText(statusCode)
	}
	return e
}
