package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/athebyme/minimall/pkg/interfaces"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создает пул соединений и проверяет доступность БД
func Connect(ctx context.Context, dsn string, logger interfaces.LoggerPort) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		interfaces.LogField{Key: "max_conns", Value: poolCfg.MaxConns})
	return pool, nil
}

// Migrate применяет встроенные миграции по порядку имен файлов.
// Миграции идемпотентны (CREATE ... IF NOT EXISTS)
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger interfaces.LoggerPort) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		logger.Info("Миграция применена", interfaces.LogField{Key: "name", Value: name})
	}
	return nil
}
