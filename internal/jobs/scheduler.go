// Package jobs — scheduler.go настраивает расписание фоновых задач (cron):
// ежедневная сводка по кассе в Telegram.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Task — периодическая задача планировщика.
type Task func(ctx context.Context) error

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
	ctx  context.Context
}

// NewScheduler создаёт планировщик в часовом поясе магазина.
func NewScheduler(loc *time.Location) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		loc:  loc,
		ctx:  context.Background(),
	}
}

// Add регистрирует задачу по cron-выражению (5 полей).
func (s *Scheduler) Add(expr, name string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() {
		log.Infof("[CRON] %s", name)
		if err := task(s.ctx); err != nil {
			log.WithError(err).Errorf("[CRON] Ошибка задачи %s", name)
		}
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание %q для %s: %w", expr, name, err)
	}
	return nil
}

// Entries возвращает число зарегистрированных задач.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start запускает все фоновые задачи. ctx передаётся в каждую задачу.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	log.Infof("Планировщик задач запущен (%s)", s.loc)
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
