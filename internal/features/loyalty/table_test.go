package loyalty

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/valuecard/internal/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewTable_SortsAndValidates(t *testing.T) {
	table, err := NewTable([]Tier{
		{Name: "Gold", MinSpend: d("3000"), Multiplier: d("1.5")},
		{Name: "Bronze", MinSpend: d("0"), Multiplier: d("1")},
		{Name: "Silver", MinSpend: d("1000"), Multiplier: d("1.2")},
	})
	require.NoError(t, err)

	names := []string{}
	for _, tier := range table.Tiers() {
		names = append(names, tier.Name)
	}
	assert.Equal(t, []string{"Bronze", "Silver", "Gold"}, names)
	assert.Equal(t, "Bronze", table.Base().Name)
}

func TestNewTable_Rejects(t *testing.T) {
	cases := map[string][]Tier{
		"empty":         {},
		"no base tier":  {{Name: "Silver", MinSpend: d("1000"), Multiplier: d("1")}},
		"negative mult": {{Name: "Bronze", MinSpend: d("0"), Multiplier: d("-1")}},
		"negative spend": {
			{Name: "Bronze", MinSpend: d("0"), Multiplier: d("1")},
			{Name: "Odd", MinSpend: d("-5"), Multiplier: d("1")},
		},
		"duplicate spend": {
			{Name: "Bronze", MinSpend: d("0"), Multiplier: d("1")},
			{Name: "Silver", MinSpend: d("1000"), Multiplier: d("1.2")},
			{Name: "Silver2", MinSpend: d("1000"), Multiplier: d("1.3")},
		},
		"duplicate name": {
			{Name: "Bronze", MinSpend: d("0"), Multiplier: d("1")},
			{Name: "bronze ", MinSpend: d("500"), Multiplier: d("1")},
		},
		"blank name": {{Name: "  ", MinSpend: d("0"), Multiplier: d("1")}},
	}

	for name, tiers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(tiers)
			assert.ErrorIs(t, err, common.ErrInvalidTiers)
		})
	}
}

func TestTable_ForSpend(t *testing.T) {
	table := MustTable(DefaultTiers())

	cases := map[string]string{
		"0":       "Bronze",
		"999.99":  "Bronze",
		"1000":    "Silver",
		"2999":    "Silver",
		"3000":    "Gold",
		"1000000": "Gold",
	}
	for spend, want := range cases {
		assert.Equal(t, want, table.ForSpend(d(spend)).Name, spend)
	}
}

func TestTable_ByName(t *testing.T) {
	table := MustTable(DefaultTiers())

	assert.Equal(t, "Silver", table.ByName(" silver ").Name)
	assert.Equal(t, "Gold", table.ByName("GOLD").Name)
	assert.Equal(t, "Bronze", table.ByName("Platinum").Name, "неизвестное имя → базовый уровень")
	assert.Equal(t, "Bronze", table.ByName("").Name)
}

func TestTable_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(MustTable(DefaultTiers()))
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 3)
	assert.Equal(t, "Bronze", out[0]["name"])
	assert.Equal(t, "1.2", out[1]["multiplier"])
}

func TestFindTierForSpend_RawList(t *testing.T) {
	tiers := []Tier{
		{Name: "Gold", MinSpend: d("3000")},
		{Name: "Silver", MinSpend: d("1000")},
		{Name: "Bronze", MinSpend: d("0")},
	}

	assert.Equal(t, "Silver", FindTierForSpend(tiers, d("1500")).Name)
	assert.Equal(t, "Gold", FindTierForSpend(tiers, d("3000")).Name)
	assert.Equal(t, Tier{}, FindTierForSpend(nil, d("10")))

	// Без базового уровня: ничего не подошло → наименьший порог.
	noBase := []Tier{{Name: "Silver", MinSpend: d("1000")}, {Name: "Gold", MinSpend: d("3000")}}
	assert.Equal(t, "Silver", FindTierForSpend(noBase, d("10")).Name)
}

func TestFindTierByName_RawList(t *testing.T) {
	tiers := []Tier{
		{Name: "Gold", MinSpend: d("3000")},
		{Name: "Bronze", MinSpend: d("0")},
	}
	assert.Equal(t, "Gold", FindTierByName(tiers, "gold").Name)
	assert.Equal(t, "Bronze", FindTierByName(tiers, "unknown").Name)
	assert.Equal(t, Tier{}, FindTierByName(nil, "gold"))
}
