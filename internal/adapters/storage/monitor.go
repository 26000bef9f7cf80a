package postgres

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/athebyme/minimall/pkg/interfaces"
)

// QueryStats накопленная статистика одного запроса
type QueryStats struct {
	Name   string        `json:"name"`
	Count  int64         `json:"count"`
	Errors int64         `json:"errors"`
	Total  time.Duration `json:"total"`
	Max    time.Duration `json:"max"`
}

// Avg среднее время выполнения
func (s QueryStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// QueryMonitor измеряет запросы к БД. Таблица статистики ограничена maxEntries,
// при переполнении вытесняется запрос с наименьшим числом вызовов
type QueryMonitor struct {
	mu         sync.Mutex
	stats      map[string]*QueryStats
	maxEntries int
	slow       time.Duration
	logger     interfaces.LoggerPort

	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewQueryMonitor регистрирует метрики в reg
func NewQueryMonitor(reg prometheus.Registerer, logger interfaces.LoggerPort, slow time.Duration, maxEntries int) *QueryMonitor {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	factory := promauto.With(reg)

	return &QueryMonitor{
		stats:      make(map[string]*QueryStats),
		maxEntries: maxEntries,
		slow:       slow,
		logger:     logger,
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "minimall_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"query"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minimall_db_query_errors_total",
			Help: "Total number of failed database queries",
		}, []string{"query"}),
	}
}

// Track выполняет fn и учитывает длительность под именем name
func (m *QueryMonitor) Track(ctx context.Context, name string, fn func() error) error {
	if m == nil {
		return fn()
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	failed := err != nil && !errors.Is(err, pgx.ErrNoRows)

	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	if failed {
		m.errors.WithLabelValues(name).Inc()
	}
	m.record(name, elapsed, failed)

	if m.slow > 0 && elapsed >= m.slow {
		m.logger.WarnWithContext(ctx, "Медленный запрос к БД",
			interfaces.LogField{Key: "query", Value: name},
			interfaces.LogField{Key: "duration_ms", Value: elapsed.Milliseconds()})
	}

	return err
}

func (m *QueryMonitor) record(name string, elapsed time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[name]
	if !ok {
		if len(m.stats) >= m.maxEntries {
			m.evictLeastUsed()
		}
		s = &QueryStats{Name: name}
		m.stats[name] = s
	}

	s.Count++
	s.Total += elapsed
	if elapsed > s.Max {
		s.Max = elapsed
	}
	if failed {
		s.Errors++
	}
}

// evictLeastUsed вызывается под m.mu
func (m *QueryMonitor) evictLeastUsed() {
	var victim *QueryStats
	for _, s := range m.stats {
		if victim == nil || s.Count < victim.Count || (s.Count == victim.Count && s.Name < victim.Name) {
			victim = s
		}
	}
	if victim != nil {
		delete(m.stats, victim.Name)
	}
}

// Top возвращает n самых частых запросов
func (m *QueryMonitor) Top(n int) []QueryStats {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	out := make([]QueryStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, *s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Reset очищает накопленную статистику
func (m *QueryMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stats = make(map[string]*QueryStats)
	m.mu.Unlock()
}
