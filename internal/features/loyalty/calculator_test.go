package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestComputePointsEarned(t *testing.T) {
	table := MustTable(DefaultTiers())
	bronze, silver, gold := table.ByName("Bronze"), table.ByName("Silver"), table.ByName("Gold")

	assert.Equal(t, int64(5), ComputePointsEarned(d("500"), bronze, true))
	assert.Equal(t, int64(3), ComputePointsEarned(d("250"), silver, true))   // 3.0
	assert.Equal(t, int64(7), ComputePointsEarned(d("500"), gold, true))     // 7.5 → 7
	assert.Equal(t, int64(0), ComputePointsEarned(d("99.99"), bronze, true)) // 0.9999 → 0
	assert.Equal(t, int64(0), ComputePointsEarned(d("500"), gold, false))
	assert.Equal(t, int64(0), ComputePointsEarned(d("0"), gold, true))
	assert.Equal(t, int64(0), ComputePointsEarned(d("500"), Tier{Multiplier: decimal.Zero}, true))
}

func TestComputeNewTotalSpent(t *testing.T) {
	assert.True(t, d("1200").Equal(ComputeNewTotalSpent(d("900"), TxPayment, d("300"))))
	assert.True(t, d("900").Equal(ComputeNewTotalSpent(d("900"), TxTopup, d("300"))))
}

func TestComputeTier_CrossesThreshold(t *testing.T) {
	table := MustTable(DefaultTiers())

	// Оплата 300 при накоплениях 900 → 1200, это Silver.
	spent := ComputeNewTotalSpent(d("900"), TxPayment, d("300"))
	assert.Equal(t, "Silver", ComputeTier(spent, table).Name)
}

func TestTxType_Valid(t *testing.T) {
	assert.True(t, TxTopup.Valid())
	assert.True(t, TxPayment.Valid())
	assert.False(t, TxType("REFUND").Valid())
	assert.False(t, TxType("topup").Valid())
}

func TestComputePointsEarned_Properties(t *testing.T) {
	table := MustTable(DefaultTiers())

	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(1, 10_000_000).Draw(t, "cents")
		amount := decimal.New(cents, -2)
		tier := table.Tiers()[rapid.IntRange(0, 2).Draw(t, "tier")]

		pts := ComputePointsEarned(amount, tier, true)
		if pts < 0 {
			t.Fatalf("отрицательные баллы: %d", pts)
		}

		exact := amount.Div(decimal.NewFromInt(100)).Mul(tier.Multiplier)
		if decimal.NewFromInt(pts).GreaterThan(exact) {
			t.Fatalf("баллы %d больше точного значения %s", pts, exact)
		}
		if exact.Sub(decimal.NewFromInt(pts)).GreaterThanOrEqual(decimal.NewFromInt(1)) {
			t.Fatalf("округление потеряло целый балл: %d vs %s", pts, exact)
		}

		// Монотонность: больше сумма → не меньше баллов.
		more := amount.Add(decimal.New(rapid.Int64Range(0, 100_000).Draw(t, "extra"), -2))
		if ComputePointsEarned(more, tier, true) < pts {
			t.Fatalf("баллы уменьшились при росте суммы")
		}
	})
}

func TestComputeTier_MonotonicInSpend(t *testing.T) {
	table := MustTable(DefaultTiers())

	rapid.Check(t, func(t *rapid.T) {
		a := decimal.New(rapid.Int64Range(0, 1_000_000).Draw(t, "a"), -2)
		b := a.Add(decimal.New(rapid.Int64Range(0, 1_000_000).Draw(t, "delta"), -2))

		if ComputeTier(b, table).MinSpend.LessThan(ComputeTier(a, table).MinSpend) {
			t.Fatalf("уровень понизился при росте накоплений: %s → %s", a, b)
		}
	})
}
