// Package loyalty — repository.go хранит настройки магазина и таблицу уровней.
// Две реализации: PostgreSQL (прод) и в памяти (тесты, STORE_DRIVER=memory).
package loyalty

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository — хранилище настроек и уровней.
type Repository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, key, value string) error
	LoadTiers(ctx context.Context) ([]Tier, error)
	ReplaceTiers(ctx context.Context, tiers []Tier) error
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)

// PostgresRepository работает с таблицами settings и tiers.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository создаёт репозиторий настроек поверх пула соединений.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LoadSettings возвращает все пары ключ/значение.
func (r *PostgresRepository) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("ошибка сканирования настройки: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	return out, nil
}

// SaveSetting вставляет или обновляет одну настройку.
func (r *PostgresRepository) SaveSetting(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}
	return nil
}

// LoadTiers возвращает уровни в порядке хранения.
func (r *PostgresRepository) LoadTiers(ctx context.Context) ([]Tier, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, min_spend, multiplier, color
		FROM tiers
		ORDER BY min_spend
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения уровней: %w", err)
	}
	defer rows.Close()

	var out []Tier
	for rows.Next() {
		var (
			t  Tier
			id int64
		)
		if err := rows.Scan(&id, &t.Name, &t.MinSpend, &t.Multiplier, &t.Color); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уровня: %w", err)
		}
		t.ID = fmt.Sprintf("%d", id)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения уровней: %w", err)
	}
	return out, nil
}

// ReplaceTiers атомарно заменяет всю таблицу уровней.
func (r *PostgresRepository) ReplaceTiers(ctx context.Context, tiers []Tier) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tiers`); err != nil {
		return fmt.Errorf("ошибка очистки уровней: %w", err)
	}

	for i, t := range tiers {
		_, err := tx.Exec(ctx, `
			INSERT INTO tiers (id, name, min_spend, multiplier, color)
			VALUES ($1, $2, $3, $4, $5)
		`, i+1, t.Name, t.MinSpend, t.Multiplier, t.Color)
		if err != nil {
			return fmt.Errorf("ошибка записи уровня %s: %w", t.Name, err)
		}
	}

	return tx.Commit(ctx)
}

// MemoryRepository хранит настройки в памяти процесса.
type MemoryRepository struct {
	mu       sync.RWMutex
	settings map[string]string
	tiers    []Tier
}

// NewMemoryRepository создаёт пустое хранилище настроек.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{settings: make(map[string]string)}
}

func (r *MemoryRepository) LoadSettings(_ context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.settings))
	for k, v := range r.settings {
		out[k] = v
	}
	return out, nil
}

func (r *MemoryRepository) SaveSetting(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

func (r *MemoryRepository) LoadTiers(_ context.Context) ([]Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tier, len(r.tiers))
	copy(out, r.tiers)
	return out, nil
}

func (r *MemoryRepository) ReplaceTiers(_ context.Context, tiers []Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tiers = make([]Tier, len(tiers))
	for i, t := range tiers {
		t.ID = fmt.Sprintf("%d", i+1)
		r.tiers[i] = t
	}
	return nil
}
