package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/iabalyuk/librarybot/bot"
	"github.com/iabalyuk/librarybot/catalog"
	"github.com/iabalyuk/librarybot/config"
	"github.com/iabalyuk/librarybot/conversation"
	"github.com/iabalyuk/librarybot/reservation"
	"github.com/iabalyuk/librarybot/secrets"
	"github.com/iabalyuk/librarybot/session"
	"github.com/iabalyuk/librarybot/storage"
	"github.com/iabalyuk/librarybot/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open storage at %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	cipher, err := newCipher(cfg.MasterKey)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	if err := tgbotapi.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)); err != nil {
		return err
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = cfg.Debug
	slog.Info("bot authorized", "username", api.Self.UserName, "mode", cfg.Mode)

	registrar := conversation.NewRegistrar(store, cipher, cfg.PhonePrefix)
	telegramBot := bot.New(bot.NewBotConfig{
		Gateway:         bot.NewTelegramGateway(api, cfg.SendRatePerSecond),
		Machine:         conversation.NewMachine(sessions, store, registrar),
		Reservations:    reservation.NewService(store, cipher),
		Catalog:         catalog.NewService(store),
		LibrarianChatID: cfg.LibrarianChatID,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	g, gctx := errgroup.WithContext(ctx)

	switch cfg.Mode {
	case config.ModeWebhook:
		wh, err := tgbotapi.NewWebhook(strings.TrimRight(cfg.WebhookURL, "/") + cfg.WebhookPath)
		if err != nil {
			return fmt.Errorf("build webhook: %w", err)
		}
		wh.MaxConnections = cfg.MaxConcurrentUpdates
		if _, err := api.Request(wh); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		mux.Handle(cfg.WebhookPath, telegramBot.WebhookHandler())
	default:
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			slog.Warn("failed to delete webhook", "error", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := api.GetUpdatesChan(u)
		g.Go(func() error {
			return telegramBot.Poll(gctx, updates, int64(cfg.MaxConcurrentUpdates))
		})
		g.Go(func() error {
			<-gctx.Done()
			api.StopReceivingUpdates()
			return nil
		})
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("bot stopped")
	return err
}

// openSessions opens the configured session backend. The memory backend gets
// a background sweeper; Redis expires keys by itself.
func openSessions(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.SessionBackend == config.SessionBackendRedis {
		rs := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Info("using redis session store", "addr", cfg.RedisAddr)
		return rs, func() { rs.Close() }, nil
	}

	ms := session.NewMemoryStore(cfg.SessionTTL)
	sweeper := worker.NewBackgroundWorker(worker.NewBackgroundWorkerConfig{
		Sweeper:  ms,
		Interval: cfg.SweepInterval,
	})
	sweeper.Start()
	return ms, sweeper.Stop, nil
}

func newCipher(masterKey string) (*secrets.Cipher, error) {
	master, err := secrets.ParseMasterKey(masterKey)
	if err != nil {
		return nil, err
	}
	return secrets.NewCipher(master)
}
