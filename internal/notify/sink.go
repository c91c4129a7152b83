// Package notify отправляет уведомления персоналу магазина (Telegram).
// sink.go — очередь уведомлений: постановка никогда не блокирует
// кассовую операцию, доставка идёт с повторами в фоне.
package notify

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/jobs"
)

// Sender доставляет один текст получателю.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Options — параметры доставки.
type Options struct {
	Retries    int           // Дополнительные попытки после первой (по умолчанию 2)
	RetryDelay time.Duration // Пауза между попытками (2s)
	Timeout    time.Duration // Таймаут одной попытки (15s)
	QueueSize  int           // Ёмкость буфера
}

// Sink — приёмник уведомлений с фоновой доставкой.
type Sink struct {
	sender Sender
	queue  *jobs.Queue[string]
}

// NewSink создаёт приёмник уведомлений. Доставка начинается после Start.
func NewSink(sender Sender, opts Options) *Sink {
	s := &Sink{sender: sender}
	s.queue = jobs.NewQueue("notify", opts.QueueSize, jobs.Policy{
		Retries: opts.Retries,
		Delay:   opts.RetryDelay,
		Timeout: opts.Timeout,
	}, s.send)
	return s
}

// Start запускает фоновую доставку.
func (s *Sink) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Notify ставит уведомление в очередь и сразу возвращается.
// Переполненная или закрытая очередь — уведомление отбрасывается с записью в лог.
func (s *Sink) Notify(text string) {
	if err := s.queue.Enqueue(text); err != nil {
		log.WithError(err).WithField("pending", s.queue.Len()).
			Warn("Уведомление отброшено")
	}
}

// Deliver отправляет уведомление синхронно с повторами.
// Возвращает true, если хотя бы одна попытка удалась. Ошибок наружу не отдаёт.
func (s *Sink) Deliver(ctx context.Context, text string) bool {
	return s.queue.Run(ctx, text) == nil
}

// Close дожидается отправки накопленных уведомлений (не дольше ctx).
func (s *Sink) Close(ctx context.Context) error {
	return s.queue.Close(ctx)
}

func (s *Sink) send(ctx context.Context, text string) error {
	if err := s.sender.Send(ctx, text); err != nil {
		return err
	}
	log.Debug("Уведомление отправлено")
	return nil
}

// LogSender пишет уведомления в лог. Используется без TELEGRAM_BOT_TOKEN.
type LogSender struct{}

// Send выводит текст уведомления в лог.
func (LogSender) Send(_ context.Context, text string) error {
	log.WithField("sink", "log").Info(text)
	return nil
}
