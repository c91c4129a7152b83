// Package loyalty — calculator.go содержит чистые функции расчёта
// баллов, накопленной суммы оплат и уровня. Никакого I/O.
package loyalty

import (
	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/common"
)

// ComputePointsEarned считает баллы за операцию: floor(amount / 100 * multiplier).
// Всегда округляет вниз, чтобы дробные баллы не накапливались в целочисленном балансе.
//
// Примеры:
//
//	ComputePointsEarned(500, Bronze x1, true)  → 5
//	ComputePointsEarned(250, Silver x1.2, true) → 3
//	ComputePointsEarned(500, Gold x1.5, false) → 0
func ComputePointsEarned(amount decimal.Decimal, tier Tier, pointsEnabled bool) int64 {
	if !pointsEnabled || !amount.IsPositive() || !tier.Multiplier.IsPositive() {
		return 0
	}
	return amount.Div(common.Hundred).Mul(tier.Multiplier).Floor().IntPart()
}

// ComputeNewTotalSpent добавляет сумму к накопленным оплатам только для PAYMENT.
// Пополнение — это загрузка денег, а не покупка, на уровень не влияет.
func ComputeNewTotalSpent(current decimal.Decimal, txType TxType, amount decimal.Decimal) decimal.Decimal {
	if txType == TxPayment {
		return current.Add(amount)
	}
	return current
}

// ComputeTier пересчитывает уровень по накопленной сумме оплат.
// Уровень никогда не патчится вручную — только пересчитывается из totalSpent.
func ComputeTier(newTotalSpent decimal.Decimal, table Table) Tier {
	return table.ForSpend(newTotalSpent)
}
