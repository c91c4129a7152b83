// Package members — models.go описывает структуры данных участников программы лояльности.
package members

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Member — держатель карты (или пустая выпущенная карта, если Name пустое).
type Member struct {
	CardID     string          `json:"card_id"`     // Уникальный номер карты, в верхнем регистре
	Phone      string          `json:"phone"`       // Телефон; у активных участников уникален
	Name       string          `json:"name"`        // Имя; пустое = карта не зарегистрирована
	Balance    decimal.Decimal `json:"balance"`     // Остаток предоплаты, >= 0
	Points     int64           `json:"points"`      // Накопленные баллы, >= 0
	TotalSpent decimal.Decimal `json:"total_spent"` // Сумма всех оплат, не убывает
	Tier       string          `json:"tier"`        // Имя уровня, всегда пересчитывается из TotalSpent
	JoinedAt   *time.Time      `json:"joined_date"` // Дата активации (nil у пустой карты)
	UpdatedAt  time.Time       `json:"updated_at"`
	Version    int64           `json:"-"` // Версия строки для условной записи
}

// IsRegistered сообщает, привязан ли к карте владелец.
func (m *Member) IsRegistered() bool {
	return strings.TrimSpace(m.Name) != ""
}

// Update — частичное изменение участника. nil = поле не меняется.
// ExpectedVersion > 0 делает запись условной: если версия в хранилище другая,
// ничего не пишется и возвращается common.ErrVersionConflict.
type Update struct {
	Balance    *decimal.Decimal
	Points     *int64
	TotalSpent *decimal.Decimal
	Tier       *string
	Name       *string
	Phone      *string
	JoinedAt   *time.Time

	ExpectedVersion int64
}

// Apply возвращает копию участника с применёнными изменениями (без версии и времени).
func (u Update) Apply(m Member) Member {
	if u.Balance != nil {
		m.Balance = *u.Balance
	}
	if u.Points != nil {
		m.Points = *u.Points
	}
	if u.TotalSpent != nil {
		m.TotalSpent = *u.TotalSpent
	}
	if u.Tier != nil {
		m.Tier = *u.Tier
	}
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Phone != nil {
		m.Phone = *u.Phone
	}
	if u.JoinedAt != nil {
		t := *u.JoinedAt
		m.JoinedAt = &t
	}
	return m
}

// LookupResult — результат поиска карты на кассе.
// Unregistered = карта пустая или неизвестна: кассир переходит к регистрации.
type LookupResult struct {
	Member       *Member
	CardID       string
	Unregistered bool
}

// RegisterRequest — данные для регистрации нового участника.
type RegisterRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ProfileRequest — данные для изменения профиля.
type ProfileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
