package loyalty

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// tierSeed — строка YAML-файла с уровнями (TIERS_FILE).
//
//	- name: Bronze
//	  minSpend: 0
//	  multiplier: 1
//	  color: "#cd7f32"
type tierSeed struct {
	Name       string  `yaml:"name"`
	MinSpend   float64 `yaml:"minSpend"`
	Multiplier float64 `yaml:"multiplier"`
	Color      string  `yaml:"color"`
}

// ParseTiers разбирает YAML со списком уровней и проверяет его как таблицу.
func ParseTiers(data []byte) ([]Tier, error) {
	var seeds []tierSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML уровней: %w", err)
	}

	tiers := make([]Tier, 0, len(seeds))
	for i, s := range seeds {
		tiers = append(tiers, Tier{
			ID:         fmt.Sprintf("%d", i+1),
			Name:       s.Name,
			MinSpend:   decimal.NewFromFloat(s.MinSpend).Round(2),
			Multiplier: decimal.NewFromFloat(s.Multiplier).Round(2),
			Color:      s.Color,
		})
	}

	if _, err := NewTable(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// LoadFile читает YAML-файл уровней. Пустой путь → уровни по умолчанию.
func LoadFile(path string) ([]Tier, error) {
	if path == "" {
		return DefaultTiers(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать %s: %w", path, err)
	}
	return ParseTiers(data)
}
