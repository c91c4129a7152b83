// Package loyalty — table.go реализует таблицу уровней и поиск уровня
// по накопленной сумме оплат или по имени.
package loyalty

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/common"
)

// Table — проверенная таблица уровней, отсортированная по MinSpend по возрастанию.
// Гарантирует, что уровень с MinSpend = 0 существует, поэтому поиск всегда находит уровень.
// Неизменяема после создания.
type Table struct {
	tiers []Tier
}

// NewTable проверяет уровни и строит таблицу.
//
// Отклоняет:
//   - пустой список
//   - отсутствие базового уровня (MinSpend = 0)
//   - отрицательный или повторяющийся MinSpend
//   - отрицательный множитель
//   - пустое или повторяющееся (без учёта регистра) имя
func NewTable(tiers []Tier) (Table, error) {
	if len(tiers) == 0 {
		return Table{}, fmt.Errorf("%w: нет ни одного уровня", common.ErrInvalidTiers)
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinSpend.LessThan(sorted[j].MinSpend)
	})

	names := make(map[string]struct{}, len(sorted))
	for i, t := range sorted {
		t.Name = strings.TrimSpace(t.Name)
		sorted[i].Name = t.Name

		key := strings.ToLower(t.Name)
		if key == "" {
			return Table{}, fmt.Errorf("%w: пустое имя уровня", common.ErrInvalidTiers)
		}
		if _, dup := names[key]; dup {
			return Table{}, fmt.Errorf("%w: уровень %q указан дважды", common.ErrInvalidTiers, t.Name)
		}
		names[key] = struct{}{}

		if t.MinSpend.IsNegative() {
			return Table{}, fmt.Errorf("%w: отрицательный порог у %q", common.ErrInvalidTiers, t.Name)
		}
		if t.Multiplier.IsNegative() {
			return Table{}, fmt.Errorf("%w: отрицательный множитель у %q", common.ErrInvalidTiers, t.Name)
		}
		if i > 0 && t.MinSpend.Equal(sorted[i-1].MinSpend) {
			return Table{}, fmt.Errorf("%w: одинаковый порог у %q и %q",
				common.ErrInvalidTiers, sorted[i-1].Name, t.Name)
		}
	}

	if !sorted[0].MinSpend.IsZero() {
		return Table{}, fmt.Errorf("%w: нет базового уровня с порогом 0", common.ErrInvalidTiers)
	}

	return Table{tiers: sorted}, nil
}

// MustTable — как NewTable, но паникует. Только для статичных таблиц (дефолты, тесты).
func MustTable(tiers []Tier) Table {
	t, err := NewTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

// IsZero сообщает, что таблица не инициализирована.
func (t Table) IsZero() bool {
	return len(t.tiers) == 0
}

// Tiers возвращает копию уровней по возрастанию порога.
func (t Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Base возвращает базовый уровень (MinSpend = 0).
func (t Table) Base() Tier {
	return t.tiers[0]
}

// ForSpend возвращает уровень с наибольшим порогом, не превышающим totalSpent.
func (t Table) ForSpend(totalSpent decimal.Decimal) Tier {
	for i := len(t.tiers) - 1; i >= 0; i-- {
		if t.tiers[i].MinSpend.LessThanOrEqual(totalSpent) {
			return t.tiers[i]
		}
	}
	return t.tiers[0]
}

// ByName ищет уровень по имени без учёта регистра и пробелов.
// Неизвестное имя (таблицу поменяли, а у участника старое значение) → базовый уровень.
func (t Table) ByName(name string) Tier {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, tier := range t.tiers {
		if strings.ToLower(tier.Name) == key {
			return tier
		}
	}
	return t.tiers[0]
}

// MarshalJSON отдаёт таблицу как массив уровней.
func (t Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Tiers())
}

// FindTierForSpend работает с сырым неотсортированным списком уровней:
// сортирует по убыванию порога и возвращает первый с MinSpend <= totalSpent.
// Если ничего не подошло — уровень с наименьшим порогом. Пустой список → пустой Tier.
func FindTierForSpend(tiers []Tier, totalSpent decimal.Decimal) Tier {
	if len(tiers) == 0 {
		return Tier{}
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinSpend.GreaterThan(sorted[j].MinSpend)
	})
	for _, t := range sorted {
		if t.MinSpend.LessThanOrEqual(totalSpent) {
			return t
		}
	}
	return sorted[len(sorted)-1]
}

// FindTierByName ищет уровень по имени в сыром списке; не нашли → уровень с наименьшим порогом.
func FindTierByName(tiers []Tier, name string) Tier {
	if len(tiers) == 0 {
		return Tier{}
	}
	key := strings.ToLower(strings.TrimSpace(name))
	lowest := tiers[0]
	for _, t := range tiers {
		if strings.ToLower(strings.TrimSpace(t.Name)) == key {
			return t
		}
		if t.MinSpend.LessThan(lowest.MinSpend) {
			lowest = t
		}
	}
	return lowest
}
