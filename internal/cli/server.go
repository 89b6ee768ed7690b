package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisbus "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

type repository interface {
	app.Repository
	memory.SessionIDLoader
}

// backend is the storage and fan-out a QuizService runs on.
type backend struct {
	repo    repository
	bus     app.EventBus
	codes   app.CodeIndex
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend picks Postgres and Redis when configured and falls back to memory.
func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	b := &backend{}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.repo = pgstore.NewRepository(pool)
		log.Info("using postgres repository")
	} else {
		b.repo = memory.NewRepository()
		log.Warn("postgres not configured, sessions are kept in memory")
	}

	hub := memory.NewHub(cfg.Events.Buffer, log.Named("hub"))
	codeTTL := config.TTLDuration(cfg.Quiz.CodeTTL, 10*time.Minute)

	if cfg.Redis.Addr == "" {
		b.bus = hub
		b.codes = memory.NewCodeIndex(b.repo, codeTTL)
		return b, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}

	bus := redisbus.NewEventBus(client, hub, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute), log.Named("bus"))
	if err := bus.Start(ctx); err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = bus.Close() })
	b.bus = bus
	b.codes = redisbus.NewCodeIndex(client, b.repo, codeTTL, log.Named("codes"))
	log.Info("using redis event bus", zap.String("addr", cfg.Redis.Addr))
	return b, nil
}

func newService(cfg config.Config, b *backend, log *zap.Logger) *app.QuizService {
	return app.NewQuizService(b.repo, b.bus,
		app.WithLogger(log),
		app.WithCodeIndex(b.codes),
		app.WithElapsedSource(app.ElapsedSource(strings.ToLower(cfg.Quiz.ElapsedSource))),
		app.WithJoinCodeLength(cfg.Quiz.JoinCodeLength),
	)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	service := newService(cfg, b, log)
	auth := transport.NewAuth(transport.AuthConfig{
		Username:     cfg.Host.Username,
		PasswordHash: cfg.Host.PasswordHash,
		Secret:       cfg.Host.JWTSecret,
		TokenTTL:     config.TTLDuration(cfg.Host.TokenTTL, 12*time.Hour),
	})
	if !auth.Enabled() {
		log.Warn("host.jwt_secret not set, host routes are unauthenticated")
	}

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewAPI(service, auth, log.Named("http")).Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
