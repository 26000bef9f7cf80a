// Package r2 реализует клиент Cloudflare R2 поверх S3 API с подписью AWS SigV4
package r2

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm = "AWS4-HMAC-SHA256"

	// UnsignedPayload используется для presigned URL и потоковых тел
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"

	maxPresignExpiry = 7 * 24 * time.Hour
)

// Заголовки, которые меняются по пути к серверу и не подписываются
var ignoredHeaders = map[string]struct{}{
	"authorization":   {},
	"user-agent":      {},
	"x-amzn-trace-id": {},
	"expect":          {},
	"content-length":  {},
}

// Signer подписывает запросы алгоритмом AWS Signature Version 4
type Signer struct {
	accessKeyID     string
	secretAccessKey string
	region          string
	service         string
}

// NewSigner создает подписчик. Для R2 region = "auto", service = "s3"
func NewSigner(accessKeyID, secretAccessKey, region, service string) *Signer {
	return &Signer{
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		region:          region,
		service:         service,
	}
}

// HashPayload возвращает hex SHA-256 тела запроса
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign добавляет к запросу X-Amz-Date, X-Amz-Content-Sha256 и Authorization
func (s *Signer) Sign(req *http.Request, payloadHash string, t time.Time) {
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	headers, signedHeaders := canonicalHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL.Query()),
		headers,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := s.scope(t)
	signature := s.signature(t, stringToSign(amzDate, scope, canonicalRequest))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, s.accessKeyID, scope, signedHeaders, signature))
}

// Presign возвращает URL с подписью в query-параметрах. Подписывается только host
func (s *Signer) Presign(method, rawURL string, expires time.Duration, t time.Time) (string, error) {
	if expires < time.Second || expires > maxPresignExpiry {
		return "", fmt.Errorf("presign expiry must be between 1s and 7d, got %s", expires)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	t = t.UTC()
	amzDate := t.Format(amzDateFormat)
	scope := s.scope(t)

	q := u.Query()
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", s.accessKeyID+"/"+scope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.Itoa(int(expires/time.Second)))
	q.Set("X-Amz-SignedHeaders", "host")

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI(u),
		canonicalQuery(q),
		"host:" + u.Host + "\n",
		"host",
		UnsignedPayload,
	}, "\n")

	signature := s.signature(t, stringToSign(amzDate, scope, canonicalRequest))

	u.RawQuery = canonicalQuery(q) + "&X-Amz-Signature=" + signature
	return u.String(), nil
}

func (s *Signer) scope(t time.Time) string {
	return strings.Join([]string{t.Format(shortDateFormat), s.region, s.service, "aws4_request"}, "/")
}

// signature вычисляет цепочку ключей и подписывает строку
func (s *Signer) signature(t time.Time, toSign string) string {
	key := hmacSHA256([]byte("AWS4"+s.secretAccessKey), t.Format(shortDateFormat))
	key = hmacSHA256(key, s.region)
	key = hmacSHA256(key, s.service)
	key = hmacSHA256(key, "aws4_request")
	return hex.EncodeToString(hmacSHA256(key, toSign))
}

func stringToSign(amzDate, scope, canonicalRequest string) string {
	return strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		HashPayload([]byte(canonicalRequest)),
	}, "\n")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// canonicalURI кодирует путь по сегментам, сохраняя "/"
func canonicalURI(u *url.URL) string {
	p := u.Path
	if p == "" {
		return "/"
	}
	return uriEncode(p, false)
}

// canonicalQuery сортирует параметры по ключу, затем по значению
func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), q[k]...)
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(uriEncode(k, true))
			b.WriteByte('=')
			b.WriteString(uriEncode(v, true))
		}
	}
	return b.String()
}

// canonicalHeaders возвращает блок заголовков и список подписанных имен
func canonicalHeaders(req *http.Request) (string, string) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	values := map[string][]string{"host": {host}}
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if _, skip := ignoredHeaders[lower]; skip {
			continue
		}
		values[lower] = append(values[lower], vals...)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		trimmed := make([]string, len(values[name]))
		for i, v := range values[name] {
			trimmed[i] = strings.Join(strings.Fields(v), " ")
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}

	return b.String(), strings.Join(names, ";")
}

// uriEncode кодирует все, кроме unreserved-символов RFC 3986
func uriEncode(s string, encodeSlash bool) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}
