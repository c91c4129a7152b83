// Package economy — engine.go: движок операций по картам.
//
// Порядок одной операции:
//  1. Проверка типа и суммы (до любого I/O)
//  2. Блокировка карты
//  3. Свежее чтение участника
//  4. Расчёт нового состояния (Compute, без I/O)
//  5. Условная запись снимка участника (источник истины)
//  6. Журнал и уведомление — в фоне, их сбой не отменяет операцию
package economy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/features/loyalty"
	"serotonyl.ru/valuecard/internal/features/members"
	"serotonyl.ru/valuecard/internal/notify"
)

var tracer = otel.Tracer("serotonyl.ru/valuecard/economy")

// defaultStaffName — кто провёл операцию, если касса не передала имя.
const defaultStaffName = "Staff"

// MemberStore — то, что движку нужно от хранилища участников.
type MemberStore interface {
	Lock(ctx context.Context, cardID string) (func(), error)
	Get(ctx context.Context, cardID string) (*members.Member, error)
	Put(ctx context.Context, cardID string, u members.Update) (*members.Member, error)
}

// SettingsSource отдаёт настройки магазина и таблицу уровней.
type SettingsSource interface {
	Current(ctx context.Context) (loyalty.Settings, error)
}

// Ledger принимает запись журнала после подтверждённой операции.
type Ledger interface {
	Append(ctx context.Context, tx Transaction)
}

// Notifier принимает текст уведомления без ожидания доставки.
type Notifier interface {
	Notify(text string)
}

// Engine проводит пополнения и оплаты.
type Engine struct {
	store         MemberStore
	settings      SettingsSource
	ledger        Ledger
	notifier      Notifier
	loc           *time.Location
	writeAttempts int
	now           func() time.Time
}

// NewEngine создаёт движок.
//
// Параметры:
//   - store: хранилище участников (блокировка, чтение, условная запись)
//   - settings: настройки и уровни
//   - ledger: фоновая запись журнала
//   - notifier: очередь уведомлений
//   - loc: часовой пояс магазина для текстов уведомлений
func NewEngine(store MemberStore, settings SettingsSource, ledger Ledger, notifier Notifier, loc *time.Location) *Engine {
	return &Engine{
		store:         store,
		settings:      settings,
		ledger:        ledger,
		notifier:      notifier,
		loc:           loc,
		writeAttempts: 3,
		now:           time.Now,
	}
}

// Validate проверяет запрос без обращения к хранилищу.
// Сумма должна быть > 0 и не точнее двух знаков после запятой.
func Validate(req Request) error {
	if common.NormalizeCardID(req.CardID) == "" {
		return common.ErrInvalidCardID
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidType, req.Type)
	}
	if !req.Amount.IsPositive() || !common.HasCentPrecision(req.Amount) {
		return fmt.Errorf("%w: %s", common.ErrInvalidAmount, req.Amount)
	}
	return nil
}

// Compute считает новое состояние участника после операции. Никакого I/O.
//
// Баллы начисляются только за пополнение, по множителю текущего уровня.
// Накопленные оплаты растут только от оплат; уровень пересчитывается из них.
func Compute(m members.Member, req Request, st loyalty.Settings) (Outcome, error) {
	if !m.IsRegistered() {
		return Outcome{}, common.ErrUnregisteredCard
	}

	balance := m.Balance
	var earned int64

	switch req.Type {
	case loyalty.TxTopup:
		balance = balance.Add(req.Amount)
		earned = loyalty.ComputePointsEarned(req.Amount, st.Tiers.ByName(m.Tier), st.PointsEnabled)
	case loyalty.TxPayment:
		if balance.LessThan(req.Amount) {
			return Outcome{}, fmt.Errorf("%w: баланс %s, сумма %s",
				common.ErrInsufficientBalance, balance, req.Amount)
		}
		balance = balance.Sub(req.Amount)
	default:
		return Outcome{}, common.ErrInvalidType
	}

	spent := loyalty.ComputeNewTotalSpent(m.TotalSpent, req.Type, req.Amount)
	return Outcome{
		Balance:      balance,
		Points:       m.Points + earned,
		TotalSpent:   spent,
		Tier:         loyalty.ComputeTier(spent, st.Tiers).Name,
		PointsEarned: earned,
	}, nil
}

// Process проводит операцию.
//
// Результат возвращается только после подтверждённой записи баланса.
// Ошибки: ErrInvalidType, ErrInvalidAmount, ErrMemberNotFound, ErrUnregisteredCard,
// ErrInsufficientBalance, ErrLockTimeout, ErrUpdateFailed.
func (e *Engine) Process(ctx context.Context, req Request) (Result, error) {
	req.CardID = common.NormalizeCardID(req.CardID)
	req.Note = strings.TrimSpace(req.Note)
	req.StaffName = strings.TrimSpace(req.StaffName)
	if req.StaffName == "" {
		req.StaffName = defaultStaffName
	}

	if err := Validate(req); err != nil {
		return Result{}, err
	}

	ctx, span := tracer.Start(ctx, "economy.Process")
	span.SetAttributes(
		attribute.String("card_id", req.CardID),
		attribute.String("type", string(req.Type)),
		attribute.String("amount", req.Amount.String()),
	)
	defer span.End()

	res, err := e.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) process(ctx context.Context, req Request) (Result, error) {
	unlock, err := e.store.Lock(ctx, req.CardID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	st, err := e.settings.Current(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ошибка чтения настроек: %w", err)
	}

	for attempt := 1; attempt <= e.writeAttempts; attempt++ {
		m, err := e.store.Get(ctx, req.CardID)
		if err != nil {
			return Result{}, err
		}

		out, err := Compute(*m, req, st)
		if err != nil {
			return Result{}, err
		}

		updated, err := e.store.Put(ctx, req.CardID, members.Update{
			Balance:         &out.Balance,
			Points:          &out.Points,
			TotalSpent:      &out.TotalSpent,
			Tier:            &out.Tier,
			ExpectedVersion: m.Version,
		})
		if errors.Is(err, common.ErrVersionConflict) {
			// Запись изменили в обход блокировки (другой процесс). Ничего не записано — пересчитываем.
			log.WithFields(log.Fields{
				"card_id": req.CardID,
				"attempt": attempt,
			}).Warn("Конфликт версий, перечитываем участника")
			continue
		}
		if err != nil {
			return Result{}, err
		}

		tx := e.transaction(req, m, out)
		e.ledger.Append(ctx, tx)
		e.notifier.Notify(notify.Format(notify.Event{
			Kind:         notify.Kind(req.Type),
			Name:         updated.Name,
			CardID:       updated.CardID,
			Amount:       req.Amount,
			BalanceAfter: out.Balance,
			PointsEarned: out.PointsEarned,
			At:           tx.Timestamp,
		}, e.loc))

		log.WithFields(log.Fields{
			"card_id":       req.CardID,
			"type":          req.Type,
			"amount":        req.Amount.String(),
			"balance_after": out.Balance.String(),
			"points_earned": out.PointsEarned,
			"txn_id":        tx.ID,
		}).Info("Операция проведена")

		return Result{
			Balance:      out.Balance,
			Points:       out.Points,
			Tier:         out.Tier,
			PointsEarned: out.PointsEarned,
			Transaction:  tx,
		}, nil
	}

	return Result{}, fmt.Errorf("%w: запись карты %s постоянно меняется", common.ErrUpdateFailed, req.CardID)
}

func (e *Engine) transaction(req Request, before *members.Member, out Outcome) Transaction {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Transaction{
		ID:            id.String(),
		CardID:        before.CardID,
		Type:          req.Type,
		Amount:        req.Amount,
		BalanceBefore: before.Balance,
		BalanceAfter:  out.Balance,
		PointsEarned:  out.PointsEarned,
		Note:          req.Note,
		StaffName:     req.StaffName,
		Timestamp:     e.now(),
	}
}
