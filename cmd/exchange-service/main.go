package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rajivgeraev/flippy-api/internal/config"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

var (
	// Version заполняется через ldflags при сборке
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "exchange-service",
	Short:         "Flippy API: обмены товарами между пользователями",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("file", "", "Путь к YAML с пользователями и товарами (по умолчанию FIXTURES_PATH)")
}

// bootstrap загружает конфигурацию и создаёт логгер
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.ForEnv(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	logger.SetGlobal(log)
	return cfg, log, nil
}

// openStore открывает хранилище выбранного драйвера
func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return db.NewMemoryStore(), nil
	case "bolt":
		return db.NewBoltStore(cfg.BoltPath)
	case "postgres":
		return db.NewPostgresStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %s", cfg.StoreDriver)
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		store, err := db.NewPostgresStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		log.Info("✅ Миграции применены")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Загрузить пользователей и товары из YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = cfg.FixturesPath
		}

		fixtures, err := db.LoadFixtures(path)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := db.Seed(ctx, store, fixtures, time.Now().UTC()); err != nil {
			return err
		}
		log.Info("✅ Данные загружены")
		return nil
	},
}
