// Package notify — message.go формирует тексты уведомлений (HTML, на тайском,
// как их читает персонал магазина).
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/common"
)

const separator = "━━━━━━━━━━━━━━━"

// Kind — тип события для уведомления.
type Kind string

// Типы уведомлений
const (
	KindRegister Kind = "REGISTER"
	KindTopup    Kind = "TOPUP"
	KindPayment  Kind = "PAYMENT"
)

// Event — данные для одного уведомления.
type Event struct {
	Kind         Kind
	Name         string
	CardID       string
	Phone        string          // только для REGISTER
	Amount       decimal.Decimal // для TOPUP/PAYMENT
	BalanceAfter decimal.Decimal
	PointsEarned int64
	At           time.Time
}

// Format собирает HTML-текст уведомления в часовом поясе магазина.
//
// Пример (TOPUP):
//
//	💰 เติมเงินสำเร็จ
//	👤 ลูกค้า: Somchai
//	💵 จำนวนเงิน: 500 บาท
//	🟢 คงเหลือ: 1,500 บาท
//	✨ แต้มได้รับ: +5 P
func Format(e Event, loc *time.Location) string {
	emoji, title := "💳", "ชำระเงินสำเร็จ"
	switch e.Kind {
	case KindRegister:
		emoji, title = "🆕", "สมัครสมาชิกใหม่"
	case KindTopup:
		emoji, title = "💰", "เติมเงินสำเร็จ"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s %s</b>\n", emoji, title)
	sb.WriteString(separator + "\n")
	fmt.Fprintf(&sb, "👤 <b>ลูกค้า:</b> %s\n", html.EscapeString(e.Name))
	fmt.Fprintf(&sb, "🆔 <b>Card ID:</b> <code>%s</code>\n", html.EscapeString(e.CardID))

	if e.Kind == KindRegister {
		phone := e.Phone
		if phone == "" {
			phone = "-"
		}
		fmt.Fprintf(&sb, "📱 <b>เบอร์โทร:</b> %s\n", html.EscapeString(phone))
	} else {
		fmt.Fprintf(&sb, "💵 <b>จำนวนเงิน:</b> %s\n", common.FormatBaht(e.Amount))
		fmt.Fprintf(&sb, "🟢 <b>คงเหลือ:</b> %s\n", common.FormatBaht(e.BalanceAfter))
		if e.PointsEarned > 0 {
			fmt.Fprintf(&sb, "✨ <b>แต้มได้รับ:</b> +%d P\n", e.PointsEarned)
		}
	}

	sb.WriteString(separator + "\n")
	fmt.Fprintf(&sb, "⏰ %s", common.FormatDateTime(e.At, loc))
	return sb.String()
}

// Summary — итоги дня для вечерней сводки.
type Summary struct {
	ShopName   string
	Day        time.Time
	Topup      decimal.Decimal
	Payment    decimal.Decimal
	NewMembers int
}

// FormatSummary собирает текст ежедневной сводки.
func FormatSummary(s Summary, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>📊 สรุปยอดประจำวัน</b> %s\n", html.EscapeString(s.ShopName))
	sb.WriteString(separator + "\n")
	fmt.Fprintf(&sb, "📅 %s\n", s.Day.In(loc).Format("02/01/2006"))
	fmt.Fprintf(&sb, "💰 <b>เติมเงิน:</b> %s\n", common.FormatBaht(s.Topup))
	fmt.Fprintf(&sb, "💳 <b>ชำระเงิน:</b> %s\n", common.FormatBaht(s.Payment))
	fmt.Fprintf(&sb, "🆕 <b>สมาชิกใหม่:</b> %d\n", s.NewMembers)
	sb.WriteString(separator)
	return sb.String()
}
