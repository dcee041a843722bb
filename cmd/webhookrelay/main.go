package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/richytech/webhookrelay/internal/api"
	"github.com/richytech/webhookrelay/internal/config"
	"github.com/richytech/webhookrelay/internal/dispatch"
	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "webhookrelay",
		Short: "Webhook Relay — receive, sign and forward webhooks with retries",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(accountCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server and dispatch workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			q, err := queue.NewRedis(queue.RedisConfig{
				Address:   cfg.Queue.Redis.Address,
				Password:  cfg.Queue.Redis.Password,
				DB:        cfg.Queue.Redis.DB,
				PoolSize:  cfg.Queue.Redis.PoolSize,
				Namespace: cfg.Queue.Redis.Namespace,
			})
			if err != nil {
				return fmt.Errorf("failed to connect to delivery queue: %w", err)
			}
			defer q.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			pool := dispatch.NewPool(cfg.Delivery, store, q, log)
			pool.Start(ctx)

			sweeper := storage.NewSweeper(store, cfg.Retention.SweepInterval, log)
			sweeper.Start(ctx)

			server := api.NewServer(cfg.Server, store, q, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("queue", cfg.Queue.Redis.Address).
				Str("storage", cfg.Storage.Driver).
				Msg("webhook relay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			pool.Stop()
			sweeper.Stop()

			log.Info().Msg("webhook relay stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func accountCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			tier, _ := cmd.Flags().GetString("tier")
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if tier == "" {
				tier = string(models.TierFree)
			}
			if _, ok := models.WebhookQuotas[models.Tier(tier)]; !ok {
				return fmt.Errorf("unknown tier: %s", tier)
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			acct := &models.Account{
				ID:           models.NewID("acct"),
				Email:        email,
				Name:         name,
				APIKey:       models.NewAPIKey(),
				Tier:         models.Tier(tier),
				WebhookQuota: models.QuotaFor(models.Tier(tier)),
				UsageResetAt: models.NextUsageReset(now),
				Active:       true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if err := store.CreateAccount(context.Background(), acct); err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}

			out, _ := json.MarshalIndent(acct, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("email", "", "account email")
	createCmd.Flags().String("name", "", "account name")
	createCmd.Flags().String("tier", "free", "subscription tier (free, starter, business, enterprise)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			accounts, err := store.ListAccounts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if len(accounts) == 0 {
				fmt.Println("No accounts found.")
				return nil
			}

			for _, acct := range accounts {
				fmt.Printf("  %s  %s  %s  usage %d/%d\n", acct.ID, acct.Email, acct.Tier, acct.WebhookUsage, acct.WebhookQuota)
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery stats for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: webhookrelay stats <account_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetAccountStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("webhookrelay v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
