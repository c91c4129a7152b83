// Package economy проводит денежные операции по картам: пополнения и оплаты.
// models.go описывает запросы, результаты, записи журнала и статистику кассы.
package economy

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/features/loyalty"
)

// HistoryLimit — сколько последних операций показывать по карте.
const HistoryLimit = 20

// Request — запрос кассы на операцию.
type Request struct {
	CardID    string          `json:"card_id"`
	Type      loyalty.TxType  `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	StaffName string          `json:"staff_name"`
}

// Transaction — неизменяемая запись журнала об одной подтверждённой операции.
type Transaction struct {
	ID            string          `json:"transaction_id"` // UUIDv7, упорядочен по времени
	CardID        string          `json:"card_id"`
	Type          loyalty.TxType  `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	PointsEarned  int64           `json:"points_earned"`
	Note          string          `json:"note"`
	StaffName     string          `json:"staff_name"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Outcome — новое состояние участника, посчитанное без I/O.
type Outcome struct {
	Balance      decimal.Decimal
	Points       int64
	TotalSpent   decimal.Decimal
	Tier         string
	PointsEarned int64
}

// Result — ответ кассе после подтверждённой записи.
type Result struct {
	Balance      decimal.Decimal `json:"balance"`
	Points       int64           `json:"points"`
	Tier         string          `json:"tier"`
	PointsEarned int64           `json:"pointsEarned"`
	Transaction  Transaction     `json:"transaction"`
}

// Period — окно статистики на дашборде.
type Period string

// Допустимые периоды
const (
	PeriodToday Period = "today" // с полуночи по времени магазина
	PeriodWeek  Period = "week"  // последние 7 суток
	PeriodMonth Period = "month" // последний календарный месяц
)

// DayTotal — сумма операций одного типа за день (день в часовом поясе магазина).
type DayTotal struct {
	Day    string // YYYY-MM-DD
	Type   loyalty.TxType
	Amount decimal.Decimal
}

// ChartPoint — столбец графика за один день.
type ChartPoint struct {
	Name    string          `json:"name"` // подпись: 02/01
	Date    string          `json:"date"` // YYYY-MM-DD
	Topup   decimal.Decimal `json:"topup"`
	Payment decimal.Decimal `json:"payment"`
}

// DashboardStats — цифры для дашборда.
type DashboardStats struct {
	Period     Period          `json:"period"`
	Topup      decimal.Decimal `json:"topupToday"`
	Payment    decimal.Decimal `json:"paymentToday"`
	NewMembers int             `json:"newMembers"`
	ChartData  []ChartPoint    `json:"chartData"`
}
