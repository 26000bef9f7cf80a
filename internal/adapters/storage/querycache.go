package postgres

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheStats счетчики кэша запросов
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// QueryCache ограниченный по размеру кэш результатов чтения с TTL.
// Нулевой указатель означает отключенный кэш
type QueryCache struct {
	lru    *expirable.LRU[string, any]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewQueryCache создает кэш на size записей со сроком жизни ttl
func NewQueryCache(size int, ttl time.Duration) *QueryCache {
	if size <= 0 {
		return nil
	}
	return &QueryCache{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

// Key строит ключ вида name|arg1|arg2
func (c *QueryCache) Key(name string, args ...interface{}) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte('|')
		b.WriteString(fmt.Sprint(a))
	}
	return b.String()
}

func (c *QueryCache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *QueryCache) Set(key string, value any) {
	if c == nil {
		return
	}
	c.lru.Add(key, value)
}

// InvalidatePrefix удаляет все ключи с префиксом и возвращает их количество
func (c *QueryCache) InvalidatePrefix(prefix string) int {
	if c == nil {
		return 0
	}
	removed := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && c.lru.Remove(k) {
			removed++
		}
	}
	return removed
}

func (c *QueryCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *QueryCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.lru.Len()}
}
