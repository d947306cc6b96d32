package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/config"
	"github.com/BrunoS-V/telegram-vip-bot/internal/infra/httpclient"
	"github.com/BrunoS-V/telegram-vip-bot/internal/infra/telegram"
	"github.com/BrunoS-V/telegram-vip-bot/internal/jobs/recheck"
	pgrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/postgres"
	accesssvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/access"
	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/providers"
)

// App is the webhook-facing half of the system: it terminates provider
// callbacks, runs the reconciliation engine and the pending recheck sweep.
// The conversational half lives in botapp and shares the same ledger.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	recheckJob *recheck.Job
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	purchaseRepo := pgrepo.NewPurchaseRepo(pool)

	var bot *telegram.Bot
	if b, err := telegram.NewBot(cfg.Bot.Token); err != nil {
		log.Warn("telegram init failed, grants will fail until it recovers", zap.Error(err))
	} else {
		bot = b
	}

	accessService := newAccessService(bot, cfg, log)
	paymentService := paymentsvc.NewService(purchaseRepo, accessService, paymentsvc.Config{
		FixedTermDuration: cfg.Plans.Duration,
	}, log)

	mercadoPago := providers.NewMercadoPago(
		httpclient.New(cfg.Providers.MercadoPago.FetchTimeout),
		cfg.Providers.MercadoPago.BaseURL,
		cfg.Providers.MercadoPago.AccessToken,
	)
	registry := providers.NewRegistry(mercadoPago, providers.NewPayPal())

	recheckJob := recheck.New(
		purchaseRepo,
		mercadoPago,
		paymentService,
		providers.KindMercadoPago,
		cfg.Recheck.MinAge,
		cfg.Recheck.BatchLimit,
		log,
	)

	RegisterRoutes(r, Dependencies{
		Registry:       registry,
		PaymentService: paymentService,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		recheckJob: recheckJob,
		httpRouter: r,
	}, nil
}

func newAccessService(bot *telegram.Bot, cfg config.Config, log *zap.Logger) *accesssvc.Service {
	var inviter accesssvc.Inviter
	var messenger accesssvc.Messenger
	if bot != nil {
		inviter = bot
		messenger = bot
	}
	return accesssvc.NewService(inviter, messenger, accesssvc.Config{
		ChannelID:   cfg.Bot.ChannelID,
		InviteTTL:   cfg.Invite.TTL,
		MemberLimit: cfg.Invite.MemberLimit,
	}, log)
}

func (a *App) Run(ctx context.Context) error {
	go a.recheckJob.Loop(ctx, a.cfg.Recheck.Interval)

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
