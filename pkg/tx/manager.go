package tx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// txKey - ключ для хранения транзакции в контексте. Используем приватный тип, чтобы избежать коллизий.
type txKeyType struct{}

var txKey = txKeyType{}

type hooksKeyType struct{}

var hooksKey = hooksKeyType{}

// afterCommit функции, отложенные до фиксации транзакции
type afterCommit struct {
	fns []func()
}

// Beginner открывает транзакцию. Реализуется *pgxpool.Pool и pgxmock
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager управляет жизненным циклом транзакций БД.
type TxManager interface {
	// Do выполняет переданную функцию `fn` внутри транзакции.
	// Если `fn` возвращает ошибку, транзакция откатывается (Rollback).
	// Если `fn` завершается успешно (возвращает nil), транзакция фиксируется (Commit).
	// Контекст, передаваемый в `fn`, будет содержать саму транзакцию.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// pgxTxManager - реализация TxManager для pgx.
type pgxTxManager struct {
	db Beginner
}

// NewTxManager создает новый менеджер транзакций.
func NewTxManager(db Beginner) TxManager {
	return &pgxTxManager{db: db}
}

// Do реализует метод интерфейса TxManager.
func (m *pgxTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	// Вложенный вызов переиспользует уже открытую транзакцию
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx.Begin failed: %w", err)
	}

	finished := false
	defer func() {
		// Откат нужен для паники внутри fn
		if !finished {
			_ = tx.Rollback(ctx)
		}
	}()

	hooks := &afterCommit{}
	txCtx := context.WithValue(WithTx(ctx, tx), hooksKey, hooks)

	if err := fn(txCtx); err != nil {
		finished = true
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rollbackErr)
		}
		return err
	}

	finished = true
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx.Commit failed: %w", err)
	}

	for _, hook := range hooks.fns {
		hook()
	}
	return nil
}

// AfterCommit откладывает fn до успешной фиксации транзакции из ctx.
// При откате fn не вызывается. Вне транзакции, открытой TxManager, fn выполняется сразу
func AfterCommit(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(hooksKey).(*afterCommit)
	if !ok {
		fn()
		return
	}
	hooks.fns = append(hooks.fns, fn)
}

// WithTx кладет транзакцию в контекст
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// GetTxFromContext извлекает транзакцию из контекста.
func GetTxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}
