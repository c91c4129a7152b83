// Package members — service.go содержит бизнес-логику участников:
// поиск карты на кассе, регистрация, активация пустых карт,
// изменение профиля и выпуск новых карт.
package members

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/features/loyalty"
	"serotonyl.ru/valuecard/internal/notify"
)

// registerAttempts — сколько раз пробуем занять карту, если её перехватил другой процесс.
const registerAttempts = 3

var cardIDPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

// SettingsSource отдаёт текущие настройки (нужен базовый уровень).
type SettingsSource interface {
	Current(ctx context.Context) (loyalty.Settings, error)
}

// Notifier принимает текст уведомления без ожидания доставки.
type Notifier interface {
	Notify(text string)
}

// Service управляет участниками.
type Service struct {
	store      *Store
	settings   SettingsSource
	notifier   Notifier
	cardPrefix string
	loc        *time.Location
	now        func() time.Time

	regMu sync.Mutex // выбор свободной карты и номера новой карты
}

// NewService создаёт сервис участников.
func NewService(store *Store, settings SettingsSource, notifier Notifier, cardPrefix string, loc *time.Location) *Service {
	return &Service{
		store:      store,
		settings:   settings,
		notifier:   notifier,
		cardPrefix: strings.ToUpper(cardPrefix),
		loc:        loc,
		now:        time.Now,
	}
}

// Lookup ищет карту по номеру или телефону.
//
// Пустая карта и неизвестный номер карты → Unregistered (кассир переходит к регистрации).
// Неизвестный телефон → common.ErrMemberNotFound.
func (s *Service) Lookup(ctx context.Context, query string) (LookupResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return LookupResult{}, common.ErrInvalidCardID
	}

	m, err := s.store.Search(ctx, query)
	if errors.Is(err, common.ErrMemberNotFound) {
		if common.LooksLikePhone(query) {
			return LookupResult{}, err
		}
		return LookupResult{CardID: common.NormalizeCardID(query), Unregistered: true}, nil
	}
	if err != nil {
		return LookupResult{}, err
	}

	return LookupResult{Member: m, CardID: m.CardID, Unregistered: !m.IsRegistered()}, nil
}

// List возвращает всех участников.
func (s *Service) List(ctx context.Context) ([]Member, error) {
	return s.store.List(ctx)
}

// Activate привязывает владельца к конкретной пустой карте.
func (s *Service) Activate(ctx context.Context, cardID, name, phone string) (*Member, error) {
	base, err := s.baseTier(ctx)
	if err != nil {
		return nil, err
	}

	m, err := s.store.Activate(ctx, cardID, name, phone, base)
	if err != nil {
		return nil, err
	}
	s.notifyRegister(m)
	return m, nil
}

// Register регистрирует нового участника.
// Сначала занимает первую выпущенную пустую карту, иначе заводит карту
// со следующим номером после последней.
func (s *Service) Register(ctx context.Context, name, phone string) (*Member, error) {
	name = strings.TrimSpace(name)
	phone = common.NormalizePhone(phone)
	if name == "" {
		return nil, common.ErrInvalidName
	}
	if !validPhone.MatchString(phone) {
		return nil, common.ErrInvalidPhone
	}

	base, err := s.baseTier(ctx)
	if err != nil {
		return nil, err
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	if err := s.store.ensurePhoneFree(ctx, phone, ""); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= registerAttempts; attempt++ {
		m, err := s.registerOnce(ctx, name, phone, base)
		if err == nil {
			s.notifyRegister(m)
			return m, nil
		}
		// Карту перехватили между выбором и записью — пробуем следующую.
		if errors.Is(err, common.ErrAlreadyActive) || errors.Is(err, ErrCardExists) {
			log.WithError(err).WithField("attempt", attempt).Warn("Карта занята, выбираем другую")
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: не удалось выделить карту", common.ErrUpdateFailed)
}

func (s *Service) registerOnce(ctx context.Context, name, phone, base string) (*Member, error) {
	blank, err := s.store.FirstBlank(ctx)
	if err == nil {
		return s.store.Activate(ctx, blank.CardID, name, phone, base)
	}
	if !errors.Is(err, common.ErrMemberNotFound) {
		return nil, err
	}

	cardID, err := s.nextCardID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	m := &Member{
		CardID:     cardID,
		Name:       name,
		Phone:      phone,
		Balance:    decimal.Zero,
		TotalSpent: decimal.Zero,
		Tier:       base,
		JoinedAt:   &now,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, err
	}

	log.WithField("card_id", cardID).Info("Выпущена новая карта при регистрации")
	return m, nil
}

// UpdateProfile меняет имя и телефон зарегистрированного участника.
func (s *Service) UpdateProfile(ctx context.Context, cardID string, req ProfileRequest) (*Member, error) {
	name := strings.TrimSpace(req.Name)
	phone := common.NormalizePhone(req.Phone)
	if name == "" {
		return nil, common.ErrInvalidName
	}
	if !validPhone.MatchString(phone) {
		return nil, common.ErrInvalidPhone
	}

	unlock, err := s.store.Lock(ctx, cardID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.store.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !current.IsRegistered() {
		return nil, common.ErrUnregisteredCard
	}
	if err := s.store.ensurePhoneFree(ctx, phone, current.CardID); err != nil {
		return nil, err
	}

	m, err := s.store.Put(ctx, current.CardID, Update{
		Name:            &name,
		Phone:           &phone,
		ExpectedVersion: current.Version,
	})
	if errors.Is(err, common.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: %v", common.ErrUpdateFailed, err)
	}
	return m, err
}

// Provision выпускает count пустых карт подряд и возвращает их номера.
func (s *Service) Provision(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("количество карт должно быть > 0")
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		cardID, err := s.nextCardID(ctx)
		if err != nil {
			return ids, err
		}
		m := &Member{CardID: cardID, Balance: decimal.Zero, TotalSpent: decimal.Zero}
		if err := s.store.Insert(ctx, m); err != nil {
			return ids, err
		}
		ids = append(ids, cardID)
	}

	log.WithFields(log.Fields{
		"count": len(ids),
		"first": ids[0],
		"last":  ids[len(ids)-1],
	}).Info("Выпущены пустые карты")
	return ids, nil
}

func (s *Service) nextCardID(ctx context.Context) (string, error) {
	last, err := s.store.LastCardID(ctx)
	if err != nil {
		return "", err
	}
	return NextCardID(last, s.cardPrefix, s.now()), nil
}

// NextCardID возвращает номер, следующий за last.
//
// Примеры:
//
//	NextCardID("CF10050", "CF", now) → "CF10051"
//	NextCardID("", "CF", now)        → "CF10001"
//	NextCardID("weird", "CF", now)   → "CF" + последние 5 цифр unix-времени
func NextCardID(last, prefix string, now time.Time) string {
	if last == "" {
		return prefix + "10001"
	}

	match := cardIDPattern.FindStringSubmatch(last)
	if match == nil {
		ms := strconv.FormatInt(now.UnixMilli(), 10)
		return prefix + ms[len(ms)-5:]
	}

	n, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		ms := strconv.FormatInt(now.UnixMilli(), 10)
		return prefix + ms[len(ms)-5:]
	}
	next := strconv.FormatInt(n+1, 10)
	if pad := len(match[2]) - len(next); pad > 0 {
		next = strings.Repeat("0", pad) + next
	}
	return strings.ToUpper(match[1]) + next
}

func (s *Service) baseTier(ctx context.Context) (string, error) {
	st, err := s.settings.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	return st.Tiers.Base().Name, nil
}

func (s *Service) notifyRegister(m *Member) {
	at := s.now()
	if m.JoinedAt != nil {
		at = *m.JoinedAt
	}
	s.notifier.Notify(notify.Format(notify.Event{
		Kind:   notify.KindRegister,
		Name:   m.Name,
		CardID: m.CardID,
		Phone:  m.Phone,
		At:     at,
	}, s.loc))
}
