// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: нормализация идентификаторов, форматирование сумм, работа с временем.
package common

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// phonePattern — телефон, как его вводит кассир: 9–10 цифр.
var phonePattern = regexp.MustCompile(`^\d{9,10}$`)

// NormalizeCardID приводит номер карты к каноническому виду: без пробелов, в верхнем регистре.
// Номера набирают руками или сканируют, поэтому регистр и пробелы бывают любыми.
func NormalizeCardID(cardID string) string {
	return strings.ToUpper(strings.TrimSpace(cardID))
}

// NormalizePhone убирает пробелы, дефисы и скобки из телефона.
//
// Пример:
//
//	NormalizePhone(" 081-222 3333 ") → "0812223333"
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, phone)
}

// LooksLikePhone сообщает, похожа ли строка поиска на телефон, а не на номер карты.
func LooksLikePhone(query string) bool {
	return phonePattern.MatchString(NormalizePhone(query))
}

// FormatNumber форматирует число с разделителями тысяч (запятыми) и без лишних нулей.
// Пример: FormatNumber(2350.5) → "2,350.50", FormatNumber(1000) → "1,000"
func FormatNumber(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	intPart := d.Truncate(0)
	frac := d.Sub(intPart)

	digits := intPart.String()
	var sb strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}

	if !frac.IsZero() {
		// Дробную часть всегда показываем двумя знаками
		sb.WriteString(strings.TrimPrefix(frac.StringFixed(2), "0"))
	}
	return sign + sb.String()
}

// LoadLocation загружает часовой пояс магазина.
// Если tzdata недоступна — используем UTC+7 вручную (Asia/Bangkok).
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

// StartOfDay возвращает полночь того же дня в указанном часовом поясе.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatDateTime форматирует время в формат "02/01/2006 15:04" в часовом поясе магазина.
// Используется в уведомлениях.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02/01/2006 15:04")
}
