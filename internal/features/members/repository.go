// Package members — repository.go отвечает за все операции с таблицей members в БД.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
// Номера карт и телефоны сюда приходят уже нормализованными (это делает Store).
package members

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/db/postgres"
)

// ErrCardExists — карта с таким номером уже есть.
var ErrCardExists = errors.New("карта с таким номером уже существует")

// Repository — хранилище участников.
type Repository interface {
	// GetByCardID возвращает участника или common.ErrMemberNotFound.
	GetByCardID(ctx context.Context, cardID string) (*Member, error)
	// GetByPhone ищет только среди зарегистрированных участников.
	GetByPhone(ctx context.Context, phone string) (*Member, error)
	List(ctx context.Context) ([]Member, error)
	// Update применяет частичное изменение и возвращает новую версию записи.
	Update(ctx context.Context, cardID string, u Update) (*Member, error)
	Insert(ctx context.Context, m *Member) error
	// FirstBlank возвращает первую выпущенную, но не зарегистрированную карту.
	FirstBlank(ctx context.Context) (*Member, error)
	// LastCardID возвращает номер последней добавленной карты ("" если карт нет).
	LastCardID(ctx context.Context) (string, error)
	CountJoinedSince(ctx context.Context, since time.Time) (int, error)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)

// PostgresRepository работает с таблицей members.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository создаёт репозиторий участников.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const memberColumns = `card_id, phone, name, balance, points, total_spent, tier, joined_at, updated_at, version`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(
		&m.CardID, &m.Phone, &m.Name, &m.Balance, &m.Points,
		&m.TotalSpent, &m.Tier, &m.JoinedAt, &m.UpdatedAt, &m.Version,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByCardID: если не найден — common.ErrMemberNotFound.
func (r *PostgresRepository) GetByCardID(ctx context.Context, cardID string) (*Member, error) {
	ctx, span := postgres.StartSpan(ctx, "members.GetByCardID")
	defer span.End()

	m, err := scanMember(r.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE card_id = $1`, cardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения участника (card_id=%s): %w", cardID, err)
	}
	return m, nil
}

// GetByPhone: если не найден — common.ErrMemberNotFound.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE phone = $1 AND name <> ''
		LIMIT 1
	`, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("телефон %s: %w", phone, common.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("ошибка поиска по телефону: %w", err)
	}
	return m, nil
}

// List возвращает всех участников по порядку номеров карт.
func (r *PostgresRepository) List(ctx context.Context) ([]Member, error) {
	rows, err := r.db.Query(ctx, `SELECT `+memberColumns+` FROM members ORDER BY card_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка участников: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования участника: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Update — условная частичная запись.
// COALESCE оставляет поле как есть, если параметр NULL.
// При ExpectedVersion > 0 запись проходит только при совпадении версии.
func (r *PostgresRepository) Update(ctx context.Context, cardID string, u Update) (*Member, error) {
	ctx, span := postgres.StartSpan(ctx, "members.Update")
	defer span.End()

	m, err := scanMember(r.db.QueryRow(ctx, `
		UPDATE members SET
			balance     = COALESCE($2, balance),
			points      = COALESCE($3, points),
			total_spent = COALESCE($4, total_spent),
			tier        = COALESCE($5, tier),
			name        = COALESCE($6, name),
			phone       = COALESCE($7, phone),
			joined_at   = COALESCE($8, joined_at),
			updated_at  = NOW(),
			version     = version + 1
		WHERE card_id = $1 AND ($9 = 0 OR version = $9)
		RETURNING `+memberColumns,
		cardID, u.Balance, u.Points, u.TotalSpent, u.Tier, u.Name, u.Phone, u.JoinedAt, u.ExpectedVersion,
	))
	if err == nil {
		return m, nil
	}

	if isUniqueViolation(err) {
		return nil, common.ErrDuplicatePhone
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка обновления участника (card_id=%s): %w", cardID, err)
	}

	// Ни одной строки: либо карты нет, либо версия уже другая.
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM members WHERE card_id = $1)`, cardID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("ошибка проверки участника: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrMemberNotFound)
	}
	return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrVersionConflict)
}

// Insert добавляет карту. Дубликат номера → ErrCardExists, телефона → ErrDuplicatePhone.
func (r *PostgresRepository) Insert(ctx context.Context, m *Member) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO members (card_id, phone, name, balance, points, total_spent, tier, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING updated_at, version
	`, m.CardID, m.Phone, m.Name, m.Balance, m.Points, m.TotalSpent, m.Tier, m.JoinedAt,
	).Scan(&m.UpdatedAt, &m.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "members_pkey" {
				return fmt.Errorf("карта %s: %w", m.CardID, ErrCardExists)
			}
			return common.ErrDuplicatePhone
		}
		return fmt.Errorf("ошибка добавления карты %s: %w", m.CardID, err)
	}
	return nil
}

// FirstBlank: нет пустых карт — common.ErrMemberNotFound.
func (r *PostgresRepository) FirstBlank(ctx context.Context) (*Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE name = ''
		ORDER BY created_at, card_id
		LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrMemberNotFound
		}
		return nil, fmt.Errorf("ошибка поиска пустой карты: %w", err)
	}
	return m, nil
}

// LastCardID возвращает номер последней добавленной карты.
func (r *PostgresRepository) LastCardID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `
		SELECT card_id FROM members ORDER BY created_at DESC, card_id DESC LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения последней карты: %w", err)
	}
	return id, nil
}

// CountJoinedSince считает активации начиная с момента since.
func (r *PostgresRepository) CountJoinedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM members WHERE joined_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта новых участников: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
