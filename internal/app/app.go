// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: хранилища, сервисы, фоновые очереди,
// HTTP API и планировщик собираются в один объект App.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/config"
	"serotonyl.ru/valuecard/internal/db/postgres"
	"serotonyl.ru/valuecard/internal/features/economy"
	"serotonyl.ru/valuecard/internal/features/loyalty"
	"serotonyl.ru/valuecard/internal/features/members"
	"serotonyl.ru/valuecard/internal/jobs"
	"serotonyl.ru/valuecard/internal/notify"
	"serotonyl.ru/valuecard/internal/server"
)

// shutdownTimeout — сколько ждём дописывания очередей при остановке.
const shutdownTimeout = 20 * time.Second

// App содержит все компоненты приложения.
type App struct {
	Config    *config.Config
	DB        *pgxpool.Pool // nil при STORE_DRIVER=memory
	Location  *time.Location
	Loyalty   *loyalty.Service
	Members   *members.Service
	Engine    *economy.Engine
	Stats     *economy.StatsService
	Server    *server.Server
	Scheduler *jobs.Scheduler

	sink           *notify.Sink
	ledger         *economy.LedgerWriter
	tracerShutdown func(context.Context) error
}

type repositories struct {
	members members.Repository
	ledger  economy.Repository
	loyalty loyalty.Repository
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Location: common.LoadLocation(cfg.AppTimezone),
	}

	// === 1. Трейсинг ===
	shutdown, err := setupTracing(ctx, cfg.OTelEndpoint, cfg.AppEnv)
	if err != nil {
		return nil, err
	}
	a.tracerShutdown = shutdown

	// === 2. Хранилище ===
	repos, err := a.openStore(ctx)
	if err != nil {
		a.closeResources(ctx)
		return nil, err
	}

	// === 3. Настройки и уровни ===
	a.Loyalty = loyalty.NewService(repos.loyalty, cfg.SettingsCacheTTL, cfg.PointsEnabledDefault)
	if err := a.seedTiers(ctx); err != nil {
		a.closeResources(ctx)
		return nil, err
	}

	// === 4. Уведомления ===
	sender, err := newSender(cfg)
	if err != nil {
		a.closeResources(ctx)
		return nil, err
	}
	a.sink = notify.NewSink(sender, notify.Options{
		Retries:    cfg.NotifyRetries,
		RetryDelay: cfg.NotifyRetryDelay,
		Timeout:    cfg.NotifyTimeout,
		QueueSize:  cfg.NotifyQueueSize,
	})

	// === 5. Участники и операции ===
	store := members.NewStore(repos.members, members.StoreOptions{
		Timeout:        cfg.StoreTimeout,
		ReadRetries:    cfg.StoreReadRetries,
		ReadRetryDelay: 200 * time.Millisecond,
		LockTimeout:    cfg.LockTimeout,
		CacheTTL:       cfg.MemberCacheTTL,
	})
	a.Members = members.NewService(store, a.Loyalty, a.sink, cfg.CardPrefix, a.Location)

	a.ledger = economy.NewLedgerWriter(repos.ledger, cfg.LedgerQueueSize, jobs.Policy{
		Retries: cfg.LedgerRetries,
		Delay:   500 * time.Millisecond,
		Timeout: cfg.StoreTimeout,
	})
	a.Engine = economy.NewEngine(store, a.Loyalty, a.ledger, a.sink, a.Location)
	a.Stats = economy.NewStatsService(repos.ledger, store, a.Loyalty, a.sink, a.Location)

	// === 6. HTTP API ===
	a.Server = server.New(server.Options{
		Addr:           cfg.HTTPAddr,
		RateLimitRPS:   cfg.HTTPRateLimitRPS,
		RateLimitBurst: cfg.HTTPRateLimitBurst,
	},
		members.NewHandler(a.Members),
		economy.NewHandler(a.Engine, a.Stats),
		loyalty.NewHandler(a.Loyalty),
	)

	// === 7. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(a.Location)
	if cfg.DailyReportCron != "" {
		if err := a.Scheduler.Add(cfg.DailyReportCron, "daily_report", a.Stats.DailyReport); err != nil {
			a.closeResources(ctx)
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repositories, error) {
	if a.Config.StoreDriver == config.StoreMemory {
		log.Warn("STORE_DRIVER=memory: данные живут только до перезапуска")
		return repositories{
			members: members.NewMemoryRepository(),
			ledger:  economy.NewMemoryRepository(),
			loyalty: loyalty.NewMemoryRepository(),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, a.Config)
	if err != nil {
		return repositories{}, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	a.DB = pool

	if err := postgres.RunMigrations(ctx, pool, postgres.Schema); err != nil {
		return repositories{}, fmt.Errorf("ошибка миграций: %w", err)
	}

	return repositories{
		members: members.NewPostgresRepository(pool),
		ledger:  economy.NewPostgresRepository(pool),
		loyalty: loyalty.NewPostgresRepository(pool),
	}, nil
}

// seedTiers заполняет пустую таблицу уровней из TIERS_FILE (или стандартными).
func (a *App) seedTiers(ctx context.Context) error {
	tiers := loyalty.DefaultTiers()
	if a.Config.TiersFile != "" {
		loaded, err := loyalty.LoadFile(a.Config.TiersFile)
		if err != nil {
			return err
		}
		tiers = loaded
	}
	if err := a.Loyalty.Seed(ctx, tiers); err != nil {
		return fmt.Errorf("ошибка начальной загрузки уровней: %w", err)
	}
	return nil
}

func newSender(cfg *config.Config) (notify.Sender, error) {
	if cfg.TelegramBotToken == "" {
		log.Warn("TELEGRAM_BOT_TOKEN не задан: уведомления только в лог")
		return notify.LogSender{}, nil
	}
	return notify.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.IsDevelopment())
}

// Run запускает фоновые очереди, планировщик и HTTP API.
// Блокирует до отмены ctx или падения сервера, затем останавливает всё по порядку.
func (a *App) Run(ctx context.Context) error {
	// Очереди переживают отмену ctx: их дописывает Shutdown.
	background := context.WithoutCancel(ctx)
	a.sink.Start(background)
	a.ledger.Start(background)
	a.Scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown останавливает приём запросов и дописывает очереди.
// Журнал закрывается раньше уведомлений: его потеря требует ручной сверки.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Scheduler.Stop()
	if err := a.ledger.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("журнал: %w", err))
	}
	if err := a.sink.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("уведомления: %w", err))
	}
	a.closeResources(ctx)
	return errors.Join(errs...)
}

// Close освобождает ресурсы без запуска сервера (команды CLI).
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.sink != nil {
		a.sink.Start(ctx)
		_ = a.sink.Close(ctx)
	}
	a.closeResources(ctx)
}

func (a *App) closeResources(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			log.WithError(err).Warn("Ошибка остановки трейсинга")
		}
	}
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// Migrate только применяет схему и выходит.
func Migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver != config.StorePostgres {
		return fmt.Errorf("миграции нужны только для STORE_DRIVER=postgres")
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	defer pool.Close()
	return postgres.RunMigrations(ctx, pool, postgres.Schema)
}
