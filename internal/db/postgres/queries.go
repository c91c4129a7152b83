// Package postgres — queries.go применяет миграции схемы.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Migration — один шаг схемы. Версии идут строго по возрастанию.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// RunMigrations создаёт schema_migrations и применяет недостающие шаги по порядку.
// Уже применённые версии пропускаются, поэтому запуск идемпотентен.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if err := validateMigrations(migrations); err != nil {
		return err
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		ok, err := ExecMigrationSQL(ctx, pool, m)
		if err != nil {
			return fmt.Errorf("миграция %d (%s): %w", m.Version, m.Name, err)
		}
		if ok {
			applied++
			log.WithField("version", m.Version).Infof("Миграция %s применена", m.Name)
		}
	}

	log.WithFields(log.Fields{
		"total":   len(migrations),
		"applied": applied,
	}).Info("Схема БД актуальна")
	return nil
}

func validateMigrations(migrations []Migration) error {
	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			return fmt.Errorf("версии миграций должны возрастать: %d после %d", m.Version, prev)
		}
		if m.SQL == "" {
			return fmt.Errorf("миграция %d: пустой SQL", m.Version)
		}
		prev = m.Version
	}
	return nil
}

// ExecMigrationSQL выполняет одну миграцию в транзакции.
// Если запрос упадёт — транзакция откатится автоматически.
// Возвращает false, если версия уже была применена.
func ExecMigrationSQL(ctx context.Context, pool *pgxpool.Pool, m Migration) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Два экземпляра сервиса не должны мигрировать одновременно
	if _, err := tx.Exec(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("ошибка блокировки таблицы миграций: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return false, fmt.Errorf("ошибка выполнения миграции %d: %w", m.Version, err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name,
	); err != nil {
		return false, fmt.Errorf("ошибка записи версии миграции: %w", err)
	}

	return true, tx.Commit(ctx)
}
