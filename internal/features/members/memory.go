package members

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/valuecard/internal/common"
)

// MemoryRepository хранит участников в памяти процесса (тесты, STORE_DRIVER=memory).
// Повторяет правила PostgresRepository: условная запись по версии,
// уникальный телефон среди зарегистрированных.
type MemoryRepository struct {
	mu      sync.RWMutex
	members map[string]*memberRow
	seq     int64
	now     func() time.Time

	// FailUpdate, если задан, подменяет результат Update (для тестов отказов записи).
	FailUpdate func(cardID string, u Update) error
}

type memberRow struct {
	m       Member
	created int64 // порядок добавления
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		members: make(map[string]*memberRow),
		now:     time.Now,
	}
}

func (r *MemoryRepository) GetByCardID(_ context.Context, cardID string) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.members[cardID]
	if !ok {
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrMemberNotFound)
	}
	m := row.m
	return &m, nil
}

func (r *MemoryRepository) GetByPhone(_ context.Context, phone string) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.sorted() {
		if row.m.Phone == phone && row.m.IsRegistered() {
			m := row.m
			return &m, nil
		}
	}
	return nil, fmt.Errorf("телефон %s: %w", phone, common.ErrMemberNotFound)
}

func (r *MemoryRepository) List(_ context.Context) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.members))
	for _, row := range r.members {
		out = append(out, row.m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, cardID string, u Update) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailUpdate != nil {
		if err := r.FailUpdate(cardID, u); err != nil {
			return nil, err
		}
	}

	row, ok := r.members[cardID]
	if !ok {
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrMemberNotFound)
	}
	if u.ExpectedVersion > 0 && row.m.Version != u.ExpectedVersion {
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrVersionConflict)
	}

	next := u.Apply(row.m)
	if next.IsRegistered() && next.Phone != "" && r.phoneTaken(next.Phone, cardID) {
		return nil, common.ErrDuplicatePhone
	}

	next.Version = row.m.Version + 1
	next.UpdatedAt = r.now()
	row.m = next

	m := next
	return &m, nil
}

func (r *MemoryRepository) Insert(_ context.Context, m *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.CardID]; ok {
		return fmt.Errorf("карта %s: %w", m.CardID, ErrCardExists)
	}
	if m.IsRegistered() && m.Phone != "" && r.phoneTaken(m.Phone, m.CardID) {
		return common.ErrDuplicatePhone
	}

	r.seq++
	m.Version = 1
	m.UpdatedAt = r.now()
	r.members[m.CardID] = &memberRow{m: *m, created: r.seq}
	return nil
}

func (r *MemoryRepository) FirstBlank(_ context.Context) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.sorted() {
		if !row.m.IsRegistered() {
			m := row.m
			return &m, nil
		}
	}
	return nil, common.ErrMemberNotFound
}

func (r *MemoryRepository) LastCardID(_ context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.sorted()
	if len(rows) == 0 {
		return "", nil
	}
	return rows[len(rows)-1].m.CardID, nil
}

func (r *MemoryRepository) CountJoinedSince(_ context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, row := range r.members {
		if row.m.JoinedAt != nil && !row.m.JoinedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// sorted возвращает строки в порядке добавления. Вызывать под мьютексом.
func (r *MemoryRepository) sorted() []*memberRow {
	rows := make([]*memberRow, 0, len(r.members))
	for _, row := range r.members {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].created < rows[j].created })
	return rows
}

func (r *MemoryRepository) phoneTaken(phone, exceptCardID string) bool {
	for id, row := range r.members {
		if id != exceptCardID && row.m.IsRegistered() && row.m.Phone == phone {
			return true
		}
	}
	return false
}
