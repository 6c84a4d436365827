// Package main runs the Petalia support bot: the Telegram long-polling
// loop, the inactivity sweeper and the HTTP surface, all in one process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/petalia/florabot/internal/api"
	"github.com/petalia/florabot/internal/cache"
	"github.com/petalia/florabot/internal/config"
	"github.com/petalia/florabot/internal/database"
	"github.com/petalia/florabot/internal/repository"
	"github.com/petalia/florabot/internal/services/sweeper"
	"github.com/petalia/florabot/internal/support"
	"github.com/petalia/florabot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "florabot",
		Short:         "Petalia flower shop Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	// .env is a local-development convenience; absence is fine.
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the inactivity sweeper and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(db.DB)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := log.New(os.Stdout, "florabot ", log.LstdFlags|log.Lmsgprefix)

	loc, err := cfg.Support.Location()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db.DB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	sessions := cache.NewRedisCache(rdb,
		cache.WithSessionTTL(cfg.Support.SessionTTL),
		cache.WithPendingTTL(cfg.Support.PendingTTL),
	)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := sessions.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}

	bot, err := telegram.NewBot(cfg.Telegram, logger)
	if err != nil {
		return err
	}

	tickets := repository.NewTicketRepository(db)
	transport := telegram.NewTransport(bot)
	manager := support.NewManager(tickets, sessions, transport, support.Config{
		GroupChatID: cfg.Telegram.SupportGroupID,
		LogThreadID: cfg.Telegram.LogThreadID,
		Location:    loc,
	}, logger)
	router := support.NewRouter(tickets, sessions, transport, manager, logger)
	botSvc := telegram.NewService(bot, manager, router, logger)

	sweep := sweeper.New(tickets, manager,
		sweeper.WithLogger(logger),
		sweeper.WithLocation(loc),
		sweeper.WithInterval(cfg.Support.SweepInterval),
		sweeper.WithInactivityThreshold(cfg.Support.InactivityThreshold),
		sweeper.WithBatchSize(cfg.Support.SweepBatchSize),
	)

	apiSrv := api.New(cfg.HTTP.Addr, manager, sessions, map[string]api.Pinger{
		"database": api.PingerFunc(db.PingContext),
		"redis":    api.PingerFunc(sessions.Ping),
	}, logger)

	if err := sweep.Start(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		if err := apiSrv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go botSvc.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		logger.Printf("fatal: %v", err)
	}

	botSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sweep.Stop(ctx); err != nil {
		logger.Printf("sweeper shutdown: %v", err)
	}
	if err := apiSrv.Shutdown(ctx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	logger.Println("bye")
	return nil
}
