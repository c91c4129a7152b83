package economy

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/jobs"
)

// LedgerWriter дописывает журнал в фоне после подтверждённой записи баланса.
// Сбой журнала не отменяет операцию: он логируется для ручной сверки.
type LedgerWriter struct {
	repo     Repository
	queue    *jobs.Queue[Transaction]
	overflow sync.WaitGroup
}

// NewLedgerWriter создаёт фоновую запись журнала.
func NewLedgerWriter(repo Repository, size int, policy jobs.Policy) *LedgerWriter {
	w := &LedgerWriter{repo: repo}
	w.queue = jobs.NewQueue("ledger", size, policy, repo.Append)
	w.queue.OnFailure = func(tx Transaction, err error) {
		log.WithFields(log.Fields{
			"txn_id":        tx.ID,
			"card_id":       tx.CardID,
			"type":          tx.Type,
			"amount":        tx.Amount.String(),
			"balance_after": tx.BalanceAfter.String(),
		}).WithError(err).Error("Операция не попала в журнал, требуется сверка")
	}
	return w
}

// Start запускает фоновую запись.
func (w *LedgerWriter) Start(ctx context.Context) {
	w.queue.Start(ctx)
}

// Append ставит запись в очередь и не ждёт её записи.
// Переполненная очередь — запись уходит в отдельную горутину,
// закрытая — пишется сразу, чтобы не потеряться.
func (w *LedgerWriter) Append(ctx context.Context, tx Transaction) {
	err := w.queue.Enqueue(tx)
	if err == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if errors.Is(err, jobs.ErrQueueFull) {
		log.WithField("txn_id", tx.ID).Warn("Очередь журнала переполнена, пишем в обход очереди")
		w.overflow.Add(1)
		go func() {
			defer w.overflow.Done()
			_ = w.queue.Run(ctx, tx)
		}()
		return
	}
	_ = w.queue.Run(ctx, tx)
}

// Close дописывает накопленные записи (не дольше ctx).
func (w *LedgerWriter) Close(ctx context.Context) error {
	if err := w.queue.Close(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		w.overflow.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
