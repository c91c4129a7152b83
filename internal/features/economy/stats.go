package economy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/features/loyalty"
	"serotonyl.ru/valuecard/internal/notify"
)

// chartDays — сколько дней на графике дашборда (включая сегодня).
const chartDays = 7

// MemberCounter считает новых участников.
type MemberCounter interface {
	CountJoinedSince(ctx context.Context, since time.Time) (int, error)
}

// StatsService отдаёт историю операций и цифры дашборда.
type StatsService struct {
	repo     Repository
	members  MemberCounter
	settings SettingsSource
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
}

// NewStatsService создаёт сервис статистики.
func NewStatsService(repo Repository, members MemberCounter, settings SettingsSource, notifier Notifier, loc *time.Location) *StatsService {
	return &StatsService{
		repo:     repo,
		members:  members,
		settings: settings,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
	}
}

// History возвращает последние HistoryLimit операций по карте, новые первыми.
func (s *StatsService) History(ctx context.Context, cardID string) ([]Transaction, error) {
	cardID = common.NormalizeCardID(cardID)
	if cardID == "" {
		return nil, common.ErrInvalidCardID
	}
	return s.repo.History(ctx, cardID, HistoryLimit)
}

// ParsePeriod разбирает период дашборда. Пустая строка — сегодня.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(raw); p {
	case "":
		return PeriodToday, nil
	case PeriodToday, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", common.ErrInvalidPeriod, raw)
	}
}

// PeriodStart возвращает начало окна статистики.
func PeriodStart(p Period, now time.Time, loc *time.Location) (time.Time, error) {
	switch p {
	case PeriodToday:
		return common.StartOfDay(now, loc), nil
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour), nil
	case PeriodMonth:
		return now.AddDate(0, -1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", common.ErrInvalidPeriod, p)
	}
}

// Dashboard считает суммы за период, новых участников и график за 7 дней.
// Три запроса идут параллельно.
func (s *StatsService) Dashboard(ctx context.Context, p Period) (DashboardStats, error) {
	now := s.now()
	since, err := PeriodStart(p, now, s.loc)
	if err != nil {
		return DashboardStats{}, err
	}
	chartFrom := common.StartOfDay(now, s.loc).AddDate(0, 0, -(chartDays - 1))

	stats := DashboardStats{Period: p}
	var daily []DayTotal

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.Topup, stats.Payment, err = s.repo.Totals(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		stats.NewMembers, err = s.members.CountJoinedSince(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.repo.DailyTotals(gctx, chartFrom, s.loc)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, fmt.Errorf("ошибка расчёта статистики: %w", err)
	}

	stats.ChartData = buildChart(chartFrom, daily)
	return stats, nil
}

// buildChart раскладывает суммы по дням; дни без операций — нули.
func buildChart(from time.Time, daily []DayTotal) []ChartPoint {
	points := make([]ChartPoint, chartDays)
	index := make(map[string]int, chartDays)
	for i := range points {
		day := from.AddDate(0, 0, i)
		points[i] = ChartPoint{
			Name:    day.Format("02/01"),
			Date:    day.Format("2006-01-02"),
			Topup:   decimal.Zero,
			Payment: decimal.Zero,
		}
		index[points[i].Date] = i
	}

	for _, d := range daily {
		i, ok := index[d.Day]
		if !ok {
			continue
		}
		switch d.Type {
		case loyalty.TxTopup:
			points[i].Topup = points[i].Topup.Add(d.Amount)
		case loyalty.TxPayment:
			points[i].Payment = points[i].Payment.Add(d.Amount)
		}
	}
	return points
}

// DailyReport отправляет сводку за сегодня в канал уведомлений.
func (s *StatsService) DailyReport(ctx context.Context) error {
	stats, err := s.Dashboard(ctx, PeriodToday)
	if err != nil {
		return err
	}

	shop := ""
	if st, err := s.settings.Current(ctx); err == nil {
		shop = st.ShopName
	} else {
		log.WithError(err).Warn("Сводка без названия магазина")
	}

	s.notifier.Notify(notify.FormatSummary(notify.Summary{
		ShopName:   shop,
		Day:        s.now(),
		Topup:      stats.Topup,
		Payment:    stats.Payment,
		NewMembers: stats.NewMembers,
	}, s.loc))

	log.WithFields(log.Fields{
		"topup":       stats.Topup.String(),
		"payment":     stats.Payment.String(),
		"new_members": stats.NewMembers,
	}).Info("Ежедневная сводка поставлена в очередь")
	return nil
}
