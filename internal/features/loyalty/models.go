// Package loyalty описывает программу лояльности: уровни участников,
// начисление баллов и настройки магазина.
// models.go описывает структуры уровней, настроек и типы операций.
package loyalty

import (
	"github.com/shopspring/decimal"
)

// TxType — тип денежной операции по карте.
type TxType string

// Допустимые типы операций
const (
	TxTopup   TxType = "TOPUP"   // Пополнение баланса
	TxPayment TxType = "PAYMENT" // Оплата товара с баланса (учитывается в totalSpent)
)

// Valid проверяет, что тип операции известен.
func (t TxType) Valid() bool {
	return t == TxTopup || t == TxPayment
}

// Tier — уровень участника. Открывается накопленной суммой оплат и задаёт множитель баллов.
type Tier struct {
	ID         string          `json:"id"`         // Идентификатор строки (порядковый номер)
	Name       string          `json:"name"`       // Название: Bronze, Silver, ...
	MinSpend   decimal.Decimal `json:"minSpend"`   // Порог накопленных оплат (>= 0, уникален)
	Multiplier decimal.Decimal `json:"multiplier"` // Множитель баллов (>= 0)
	Color      string          `json:"color"`      // Цвет для отображения
}

// Settings — настройки магазина, которые читает движок транзакций.
type Settings struct {
	ShopName      string `json:"name"`
	ShopBranch    string `json:"branch"`
	PointsEnabled bool   `json:"isPointSystem"`
	Tiers         Table  `json:"-"`
}

// SettingsPatch содержит изменяемые поля настроек (nil = не менять).
type SettingsPatch struct {
	ShopName      *string `json:"name"`
	ShopBranch    *string `json:"branch"`
	PointsEnabled *bool   `json:"isPointSystem"`
}

// Ключи в таблице settings
const (
	keyShopName      = "shop_name"
	keyShopBranch    = "shop_branch"
	keyEnablePoints  = "enable_points"
	defaultShopName  = "POS System"
	defaultBranch    = "Staff Panel"
	settingTrueValue = "TRUE"
)

// DefaultTiers возвращает стартовую таблицу уровней.
func DefaultTiers() []Tier {
	return []Tier{
		{ID: "1", Name: "Bronze", MinSpend: decimal.Zero, Multiplier: decimal.NewFromInt(1), Color: "#cd7f32"},
		{ID: "2", Name: "Silver", MinSpend: decimal.NewFromInt(1000), Multiplier: decimal.RequireFromString("1.2"), Color: "#c0c0c0"},
		{ID: "3", Name: "Gold", MinSpend: decimal.NewFromInt(3000), Multiplier: decimal.RequireFromString("1.5"), Color: "#ffd700"},
	}
}
