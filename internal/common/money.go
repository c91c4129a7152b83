// Package common — money.go содержит хелперы для денежных сумм в батах.
package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Hundred — база начисления баллов: один балл за каждые 100 бат (до множителя уровня).
var Hundred = decimal.NewFromInt(100)

// FormatBaht форматирует сумму в читабельную строку.
// Пример: FormatBaht(1500) → "1,500 บาท"
func FormatBaht(amount decimal.Decimal) string {
	return fmt.Sprintf("%s บาท", FormatNumber(amount))
}

// FormatSignedBaht создаёт строку вида "+100 บาท" или "-50 บาท".
// Знак «+» добавляется автоматически для неотрицательных сумм.
func FormatSignedBaht(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return FormatBaht(amount)
	}
	return "+" + FormatBaht(amount)
}

// HasCentPrecision сообщает, что в сумме не больше двух знаков после запятой.
func HasCentPrecision(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(2))
}
