// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-agent-runner/internal/application"
	"telegram-agent-runner/internal/config"
	"telegram-agent-runner/internal/domain/ports/adapter"
	tele "telegram-agent-runner/internal/infra/adapters/telegram"
	pg "telegram-agent-runner/internal/infra/db/postgres"
	"telegram-agent-runner/internal/infra/executor"
	"telegram-agent-runner/internal/infra/logging"
	"telegram-agent-runner/internal/infra/metrics"
	red "telegram-agent-runner/internal/infra/redis"
	"telegram-agent-runner/internal/infra/web"
	"telegram-agent-runner/internal/infra/worker"
	"telegram-agent-runner/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode (console logs, noop bot allowed)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool, tm)
	sessionRepo := pg.NewSessionRepo(pool)
	pollRepo := pg.NewPollRepo(pool, tm)

	// ---- Use cases ----
	jobUC := usecase.NewJobUseCase(jobRepo)
	sessionUC := usecase.NewSessionUseCase(sessionRepo, locker)
	pollUC := usecase.NewPollUseCase(pollRepo)
	profileUC := usecase.NewProfileUseCase(&cfg.Runner)

	facade := &application.BotFacade{} // bot and approvalUC close the cycle below

	// ---- Telegram ----
	var chat adapter.ChatAdapter
	var bot *tele.RealTelegramBotAdapter
	if cfg.Bot.Token == "" {
		logger.Warn().Msg("no bot token configured; using noop chat adapter")
		chat = tele.NewNoopBotAdapter()
	} else {
		bot, err = tele.NewRealTelegramBotAdapter(&cfg.Bot, facade, rateLimiter, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram init failed")
		}
		chat = bot
	}
	approvalUC := usecase.NewApprovalUseCase(jobRepo, pollRepo, chat)
	*facade = *application.NewBotFacade(jobUC, sessionUC, approvalUC, pollUC, profileUC)

	// ---- Worker ----
	runner := executor.NewRunner(&cfg.Runner, logger)
	collector := executor.NewCollector(jobRepo, &cfg.Artifacts, logger)
	processor := worker.NewJobProcessor(jobRepo, sessionUC, approvalUC, pollUC, runner, collector, chat, cfg.Worker.PollInterval, logger)
	jobUC.SetCanceller(processor)

	if err := processor.RecoverInterrupted(ctx); err != nil {
		logger.Error().Err(err).Msg("startup recovery failed")
	}

	pool1 := worker.NewPool(1, logger)
	pool1.Start(ctx)
	go processor.Start(ctx, pool1)

	if bot != nil {
		go func() {
			if err := bot.StartPolling(ctx); err != nil && err != context.Canceled {
				logger.Error().Err(err).Msg("telegram polling stopped")
			}
		}()
	}

	// ---- Admin API ----
	auth := web.NewAuthManager(cfg.Admin.JWTKey, !cfg.Runtime.Dev, 30*time.Minute)
	srv := web.NewServer(jobUC, cfg.Admin.APIKey, auth, logger)
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Admin.Port), Handler: srv.Routes()}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("admin API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	go reportPoolStats(ctx, pool)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	pool1.Stop()
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stat()
			metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		}
	}
}
