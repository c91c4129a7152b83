// Package economy — repository.go хранит журнал операций (таблица transactions).
// Журнал только дописывается: записи никогда не меняются и не удаляются.
package economy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/db/postgres"
	"serotonyl.ru/valuecard/internal/features/loyalty"
)

// Repository — журнал операций.
type Repository interface {
	// Append дописывает запись. Повтор с тем же ID ничего не меняет.
	Append(ctx context.Context, tx Transaction) error
	// History возвращает последние limit операций по карте, новые первыми.
	History(ctx context.Context, cardID string, limit int) ([]Transaction, error)
	// Totals суммирует пополнения и оплаты начиная с since.
	Totals(ctx context.Context, since time.Time) (topup, payment decimal.Decimal, err error)
	// DailyTotals группирует суммы по дням в часовом поясе loc.
	DailyTotals(ctx context.Context, since time.Time, loc *time.Location) ([]DayTotal, error)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)

// PostgresRepository работает с таблицей transactions.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository создаёт репозиторий журнала.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append записывает операцию. ON CONFLICT делает повторную отправку безопасной.
func (r *PostgresRepository) Append(ctx context.Context, tx Transaction) error {
	ctx, span := postgres.StartSpan(ctx, "transactions.Append")
	defer span.End()

	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (
			transaction_id, card_id, type, amount, balance_before, balance_after,
			points_earned, note, staff_name, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transaction_id) DO NOTHING
	`, tx.ID, tx.CardID, string(tx.Type), tx.Amount, tx.BalanceBefore, tx.BalanceAfter,
		tx.PointsEarned, tx.Note, tx.StaffName, tx.Timestamp)
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции %s: %w", tx.ID, err)
	}
	return nil
}

// History возвращает последние операции по карте.
func (r *PostgresRepository) History(ctx context.Context, cardID string, limit int) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT transaction_id, card_id, type, amount, balance_before, balance_after,
		       points_earned, note, staff_name, created_at
		FROM transactions
		WHERE card_id = $1
		ORDER BY created_at DESC, transaction_id DESC
		LIMIT $2
	`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		var (
			tx     Transaction
			txType string
		)
		if err := rows.Scan(
			&tx.ID, &tx.CardID, &txType, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter,
			&tx.PointsEarned, &tx.Note, &tx.StaffName, &tx.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		tx.Type = loyalty.TxType(txType)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Totals суммирует операции по типам.
func (r *PostgresRepository) Totals(ctx context.Context, since time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var topup, payment decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'TOPUP'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'PAYMENT'), 0)
		FROM transactions
		WHERE created_at >= $1
	`, since).Scan(&topup, &payment)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ошибка подсчёта сумм: %w", err)
	}
	return topup, payment, nil
}

// DailyTotals группирует суммы по дням магазина.
func (r *PostgresRepository) DailyTotals(ctx context.Context, since time.Time, loc *time.Location) ([]DayTotal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(created_at AT TIME ZONE $2, 'YYYY-MM-DD') AS day, type, SUM(amount)
		FROM transactions
		WHERE created_at >= $1
		GROUP BY day, type
		ORDER BY day
	`, since, loc.String())
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта по дням: %w", err)
	}
	defer rows.Close()

	var out []DayTotal
	for rows.Next() {
		var (
			d      DayTotal
			txType string
		)
		if err := rows.Scan(&d.Day, &txType, &d.Amount); err != nil {
			return nil, fmt.Errorf("ошибка сканирования суммы за день: %w", err)
		}
		d.Type = loyalty.TxType(txType)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MemoryRepository хранит журнал в памяти процесса.
type MemoryRepository struct {
	mu  sync.RWMutex
	txs []Transaction
	ids map[string]struct{}
}

// NewMemoryRepository создаёт пустой журнал.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ids: make(map[string]struct{})}
}

func (r *MemoryRepository) Append(_ context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[tx.ID]; dup {
		return nil
	}
	r.ids[tx.ID] = struct{}{}
	r.txs = append(r.txs, tx)
	return nil
}

func (r *MemoryRepository) History(_ context.Context, cardID string, limit int) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Transaction{}
	for i := len(r.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.txs[i].CardID == cardID {
			out = append(out, r.txs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *MemoryRepository) Totals(_ context.Context, since time.Time) (decimal.Decimal, decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topup, payment := decimal.Zero, decimal.Zero
	for _, tx := range r.txs {
		if tx.Timestamp.Before(since) {
			continue
		}
		switch tx.Type {
		case loyalty.TxTopup:
			topup = topup.Add(tx.Amount)
		case loyalty.TxPayment:
			payment = payment.Add(tx.Amount)
		}
	}
	return topup, payment, nil
}

func (r *MemoryRepository) DailyTotals(_ context.Context, since time.Time, loc *time.Location) ([]DayTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		day string
		typ loyalty.TxType
	}
	sums := make(map[key]decimal.Decimal)
	for _, tx := range r.txs {
		if tx.Timestamp.Before(since) {
			continue
		}
		k := key{day: tx.Timestamp.In(loc).Format("2006-01-02"), typ: tx.Type}
		sums[k] = sums[k].Add(tx.Amount)
	}

	out := make([]DayTotal, 0, len(sums))
	for k, v := range sums {
		out = append(out, DayTotal{Day: k.day, Type: k.typ, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// Len возвращает число записей (для проверок в тестах и логов).
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.txs)
}
