// Package members — store.go: единая точка доступа к участникам.
// Store нормализует номера карт и телефоны, сериализует изменения одной карты,
// кеширует результаты поиска для кассы и оборачивает сбои хранилища
// в ошибки предметной области.
package members

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/valuecard/internal/common"
)

var tracer = otel.Tracer("serotonyl.ru/valuecard/members")

var validPhone = regexp.MustCompile(`^\+?\d{6,15}$`)

// StoreOptions — таймауты и повторы хранилища.
type StoreOptions struct {
	Timeout        time.Duration // Таймаут одного обращения к хранилищу
	ReadRetries    int           // Повторы чтения при временных ошибках
	ReadRetryDelay time.Duration
	LockTimeout    time.Duration // Сколько ждать освобождения карты
	CacheTTL       time.Duration // Время жизни кеша поиска (0 = без кеша)
}

// Store — адаптер хранилища участников.
type Store struct {
	repo   Repository
	locker *CardLocker
	opts   StoreOptions
	now    func() time.Time

	group   singleflight.Group
	cacheMu sync.RWMutex
	cache   map[string]cachedLookup
}

type cachedLookup struct {
	member Member
	at     time.Time
}

// NewStore создаёт адаптер поверх репозитория.
func NewStore(repo Repository, opts StoreOptions) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 15 * time.Second
	}
	return &Store{
		repo:   repo,
		locker: NewCardLocker(),
		opts:   opts,
		now:    time.Now,
		cache:  make(map[string]cachedLookup),
	}
}

// Get читает свежую запись участника, минуя кеш.
// Временные ошибки чтения повторяются; «не найден» возвращается сразу.
func (s *Store) Get(ctx context.Context, cardID string) (*Member, error) {
	cardID = common.NormalizeCardID(cardID)
	if cardID == "" {
		return nil, common.ErrInvalidCardID
	}

	return backoff.Retry(ctx, func() (*Member, error) {
		rctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		m, err := s.repo.GetByCardID(rctx, cardID)
		if errors.Is(err, common.ErrMemberNotFound) {
			return nil, backoff.Permanent(err)
		}
		return m, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.ReadRetryDelay)),
		backoff.WithMaxTries(uint(s.opts.ReadRetries+1)),
	)
}

// Put применяет частичное изменение.
//
// Возвращает:
//   - common.ErrVersionConflict: запись изменилась после чтения, ничего не записано
//   - common.ErrMemberNotFound, common.ErrDuplicatePhone: как есть
//   - common.ErrUpdateFailed: любой другой сбой или таймаут (результат неизвестен)
func (s *Store) Put(ctx context.Context, cardID string, u Update) (*Member, error) {
	cardID = common.NormalizeCardID(cardID)
	if u.Phone != nil {
		p := common.NormalizePhone(*u.Phone)
		u.Phone = &p
	}

	ctx, span := tracer.Start(ctx, "members.Put")
	span.SetAttributes(attribute.String("card_id", cardID))
	defer span.End()

	wctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	m, err := s.repo.Update(wctx, cardID, u)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, common.ErrVersionConflict),
			errors.Is(err, common.ErrMemberNotFound),
			errors.Is(err, common.ErrDuplicatePhone):
			return nil, err
		}
		span.SetStatus(codes.Error, "update failed")
		return nil, fmt.Errorf("%w: %v", common.ErrUpdateFailed, err)
	}

	s.Invalidate()
	return m, nil
}

// Lock захватывает карту на время изменения (не дольше LockTimeout).
func (s *Store) Lock(ctx context.Context, cardID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()
	return s.locker.Lock(lctx, common.NormalizeCardID(cardID))
}

// Search ищет участника по телефону (9–10 цифр) или номеру карты.
// Использует короткий кеш: баланс в ответе может отставать на CacheTTL,
// поэтому для операций с деньгами нужен Get.
func (s *Store) Search(ctx context.Context, query string) (*Member, error) {
	key := strings.TrimSpace(query)
	byPhone := common.LooksLikePhone(key)
	if byPhone {
		key = "phone:" + common.NormalizePhone(key)
	} else {
		key = "card:" + common.NormalizeCardID(key)
	}

	if m, ok := s.cached(key); ok {
		return &m, nil
	}

	// Запрос общий для всех ожидающих: отмена первого не должна валить остальных.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(shared, s.opts.Timeout)
		defer cancel()

		var (
			m   *Member
			err error
		)
		if byPhone {
			m, err = s.repo.GetByPhone(rctx, common.NormalizePhone(query))
		} else {
			m, err = s.repo.GetByCardID(rctx, common.NormalizeCardID(query))
		}
		if err != nil {
			return nil, err
		}
		s.store(key, *m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	m := *v.(*Member)
	return &m, nil
}

func (s *Store) cached(key string) (Member, bool) {
	if s.opts.CacheTTL <= 0 {
		return Member{}, false
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	e, ok := s.cache[key]
	if !ok || s.now().Sub(e.at) >= s.opts.CacheTTL {
		return Member{}, false
	}
	return e.member, true
}

func (s *Store) store(key string, m Member) {
	if s.opts.CacheTTL <= 0 {
		return
	}
	s.cacheMu.Lock()
	s.cache[key] = cachedLookup{member: m, at: s.now()}
	s.cacheMu.Unlock()
}

// Invalidate очищает кеш поиска. Вызывается после каждой записи.
func (s *Store) Invalidate() {
	s.cacheMu.Lock()
	s.cache = make(map[string]cachedLookup)
	s.cacheMu.Unlock()
}

// Activate привязывает владельца к выпущенной пустой карте.
// Обнуляет баланс, баллы и накопления, ставит базовый уровень и дату активации.
func (s *Store) Activate(ctx context.Context, cardID, name, phone, baseTier string) (*Member, error) {
	cardID = common.NormalizeCardID(cardID)
	name = strings.TrimSpace(name)
	phone = common.NormalizePhone(phone)

	if cardID == "" {
		return nil, common.ErrInvalidCardID
	}
	if name == "" {
		return nil, common.ErrInvalidName
	}
	if !validPhone.MatchString(phone) {
		return nil, common.ErrInvalidPhone
	}

	ctx, span := tracer.Start(ctx, "members.Activate")
	span.SetAttributes(attribute.String("card_id", cardID))
	defer span.End()

	unlock, err := s.Lock(ctx, cardID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if current.IsRegistered() {
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrAlreadyActive)
	}

	if err := s.ensurePhoneFree(ctx, phone, cardID); err != nil {
		return nil, err
	}

	var (
		zero   = decimal.Zero
		points int64
		now    = s.now()
	)
	m, err := s.Put(ctx, cardID, Update{
		Name:            &name,
		Phone:           &phone,
		Balance:         &zero,
		Points:          &points,
		TotalSpent:      &zero,
		Tier:            &baseTier,
		JoinedAt:        &now,
		ExpectedVersion: current.Version,
	})
	if errors.Is(err, common.ErrVersionConflict) {
		// Карту изменили в обход блокировки (другой процесс) — скорее всего, уже активировали.
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrAlreadyActive)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.WithFields(log.Fields{
		"card_id": cardID,
		"tier":    baseTier,
	}).Info("Карта активирована")
	return m, nil
}

// ensurePhoneFree проверяет, что телефон не занят другим зарегистрированным участником.
func (s *Store) ensurePhoneFree(ctx context.Context, phone, exceptCardID string) error {
	rctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	other, err := s.repo.GetByPhone(rctx, phone)
	switch {
	case errors.Is(err, common.ErrMemberNotFound):
		return nil
	case err != nil:
		return err
	case other.CardID != exceptCardID:
		return common.ErrDuplicatePhone
	}
	return nil
}

// Insert добавляет новую карту (пустую или сразу с владельцем).
func (s *Store) Insert(ctx context.Context, m *Member) error {
	m.CardID = common.NormalizeCardID(m.CardID)
	m.Phone = common.NormalizePhone(m.Phone)
	if m.CardID == "" {
		return common.ErrInvalidCardID
	}

	wctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.repo.Insert(wctx, m); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// List возвращает всех участников.
func (s *Store) List(ctx context.Context) ([]Member, error) {
	return s.repo.List(ctx)
}

// FirstBlank возвращает первую свободную выпущенную карту.
func (s *Store) FirstBlank(ctx context.Context) (*Member, error) {
	return s.repo.FirstBlank(ctx)
}

// LastCardID возвращает номер последней добавленной карты.
func (s *Store) LastCardID(ctx context.Context) (string, error) {
	return s.repo.LastCardID(ctx)
}

// CountJoinedSince считает новых участников с момента since.
func (s *Store) CountJoinedSince(ctx context.Context, since time.Time) (int, error) {
	return s.repo.CountJoinedSince(ctx, since)
}
