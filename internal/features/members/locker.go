package members

import (
	"context"
	"fmt"
	"sync"

	"serotonyl.ru/valuecard/internal/common"
)

// CardLocker — блокировка по номеру карты.
// Операции над одной картой идут строго по очереди, над разными — параллельно.
// Ожидание прерывается по ctx (дедлайн → common.ErrLockTimeout).
type CardLocker struct {
	mu    sync.Mutex
	cards map[string]*cardLock
}

type cardLock struct {
	ch   chan struct{} // ёмкость 1: занятый слот = карта захвачена
	refs int           // владелец + ожидающие
}

// NewCardLocker создаёт пустой набор блокировок.
func NewCardLocker() *CardLocker {
	return &CardLocker{cards: make(map[string]*cardLock)}
}

// Lock захватывает карту. Возвращённую функцию нужно вызвать ровно один раз.
func (l *CardLocker) Lock(ctx context.Context, cardID string) (func(), error) {
	l.mu.Lock()
	cl, ok := l.cards[cardID]
	if !ok {
		cl = &cardLock{ch: make(chan struct{}, 1)}
		l.cards[cardID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	select {
	case cl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-cl.ch
				l.release(cardID, cl)
			})
		}, nil
	case <-ctx.Done():
		l.release(cardID, cl)
		return nil, fmt.Errorf("карта %s: %w", cardID, common.ErrLockTimeout)
	}
}

func (l *CardLocker) release(cardID string, cl *cardLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl.refs--
	if cl.refs == 0 {
		delete(l.cards, cardID)
	}
}

// Held возвращает число карт, по которым есть владелец или ожидающие.
func (l *CardLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cards)
}
