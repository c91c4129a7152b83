// Package main — точка входа сервиса карт.
// Команды: serve (HTTP API), migrate (схема БД), provision (выпуск пустых карт).
// serve поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/valuecard/internal/app"
	"serotonyl.ru/valuecard/internal/config"
)

var Version = "dev"

func main() {
	setupLogging()

	rootCmd := &cobra.Command{
		Use:           "valuecard",
		Short:         "Предоплаченные карты лояльности для кассы магазина",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(provisionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Error("Команда завершилась с ошибкой")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API кассы",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Info("=== Сервис запускается ===")

			// Отмена по Ctrl+C и docker stop
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("не удалось инициализировать приложение: %w", err)
			}

			log.Info("=== Сервис готов к работе ===")
			if err := application.Run(ctx); err != nil {
				return err
			}
			log.Info("=== Сервис остановлен ===")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg)
		},
	}
}

func provisionCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Выпустить пустые карты для раздачи на кассе",
		Long: `Создаёт count пустых карт с номерами после последней выпущенной.

Пример:
  valuecard provision --count 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			ids, err := application.Members.Provision(cmd.Context(), count)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "сколько карт выпустить")
	return cmd
}

// loadConfig загружает конфигурацию и применяет уровень логов из неё.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}
	if !cfg.IsDevelopment() {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return cfg, nil
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
