// Package jobs — queue.go реализует фоновую очередь с повторами.
// Используется для отложенных действий после фиксации операции:
// запись в журнал транзакций и отправка уведомлений.
// Сбой фоновой задачи никогда не откатывает уже подтверждённую операцию.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

// ErrQueueClosed — очередь уже закрыта, задача не принята.
var ErrQueueClosed = errors.New("очередь закрыта")

// ErrQueueFull — буфер очереди заполнен, задача не принята.
var ErrQueueFull = errors.New("очередь переполнена")

// Handler обрабатывает одну задачу. Ошибка, обёрнутая в backoff.Permanent,
// прекращает повторы сразу.
type Handler[T any] func(ctx context.Context, item T) error

// Policy задаёт повторы обработки одной задачи.
type Policy struct {
	Retries int           // Дополнительные попытки после первой
	Delay   time.Duration // Пауза между попытками
	Timeout time.Duration // Таймаут одной попытки (0 = без таймаута)
}

// Queue — буферизованная очередь с одним обработчиком.
// Задачи обрабатываются по порядку поступления.
type Queue[T any] struct {
	name    string
	items   chan T
	handler Handler[T]
	policy  Policy

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}

	// OnFailure вызывается, когда задача не обработана после всех попыток.
	OnFailure func(item T, err error)
}

// NewQueue создаёт очередь. Обработка начинается после Start.
//
// Параметры:
//   - name: имя очереди для логов
//   - size: ёмкость буфера
//   - policy: повторы и таймауты
//   - handler: обработчик одной задачи
func NewQueue[T any](name string, size int, policy Policy, handler Handler[T]) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{
		name:    name,
		items:   make(chan T, size),
		handler: handler,
		policy:  policy,
		done:    make(chan struct{}),
	}
}

// Start запускает воркер. Отмена ctx не прерывает обработку:
// буфер дописывается до конца, срок ограничивает только Close.
func (q *Queue[T]) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		defer close(q.done)
		for item := range q.items {
			q.Run(ctx, item)
		}
	}()
	log.WithField("queue", q.name).Debug("Очередь запущена")
}

// Enqueue ставит задачу в очередь, никогда не блокируясь.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run обрабатывает задачу синхронно с повторами.
// Возвращает последнюю ошибку, если все попытки исчерпаны.
func (q *Queue[T]) Run(ctx context.Context, item T) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		actx, cancel := q.attemptContext(ctx)
		defer cancel()

		err := q.handler(actx, item)
		if err != nil {
			log.WithFields(log.Fields{
				"queue":   q.name,
				"attempt": attempt,
			}).WithError(err).Warn("Попытка обработки задачи не удалась")
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(q.policy.Delay)),
		backoff.WithMaxTries(uint(q.policy.Retries+1)),
	)

	if err != nil {
		log.WithFields(log.Fields{
			"queue":    q.name,
			"attempts": attempt,
		}).WithError(err).Error("Задача не обработана")
		if q.OnFailure != nil {
			q.OnFailure(item, err)
		}
	}
	return err
}

func (q *Queue[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.policy.Timeout > 0 {
		return context.WithTimeout(ctx, q.policy.Timeout)
	}
	return context.WithCancel(ctx)
}

// Len возвращает число задач, ожидающих обработки.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Close перестаёт принимать задачи и ждёт, пока воркер разберёт буфер.
// Если ctx истёк раньше — возвращает ошибку контекста, задачи в буфере теряются.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		log.WithFields(log.Fields{
			"queue":   q.name,
			"pending": len(q.items),
		}).Warn("Очередь закрыта до завершения обработки")
		return ctx.Err()
	}
}
