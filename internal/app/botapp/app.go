package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/config"
	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	tginfra "github.com/BrunoS-V/telegram-vip-bot/internal/infra/telegram"
	pgrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/postgres"
	redrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/redis"
	accesssvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/access"
	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	subsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/subscriptions"
)

// botClient is the slice of the telegram wrapper the handlers use. It exists
// so the conversational flow is testable without a live bot session.
type botClient interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]tginfra.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type conversationStore interface {
	Set(ctx context.Context, purchaserID int64, state redrepo.ConversationState, ttl time.Duration) error
	Get(ctx context.Context, purchaserID int64) (redrepo.ConversationState, error)
	Clear(ctx context.Context, purchaserID int64) error
}

type intentService interface {
	CreateIntent(ctx context.Context, purchaserID int64, provider string, plan enums.Plan) (pgrepo.PurchaseRecord, error)
	AttachContact(ctx context.Context, purchaserID int64, recordID, contact string) error
}

type statusService interface {
	Status(ctx context.Context, purchaserID int64) (subsvc.Snapshot, error)
}

type granter interface {
	Grant(ctx context.Context, purchaserID int64, plan enums.Plan) error
}

type App struct {
	cfg      config.Config
	logger   *zap.Logger
	postgres *pgxpool.Pool
	redis    *goredis.Client
	bot      *tginfra.Bot

	client        botClient
	conversations conversationStore
	payments      intentService
	subscriptions statusService
	access        granter
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for bot app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	conversationRepo := redrepo.NewConversationRepo(redisClient)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)

	var bot *tginfra.Bot
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		bot, err = tginfra.NewBot(cfg.Bot.Token)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
	} else {
		logger.Warn("BOT_TOKEN is empty, update listener disabled")
	}

	var inviter accesssvc.Inviter
	var messenger accesssvc.Messenger
	if bot != nil {
		inviter = bot
		messenger = bot
	}
	accessService := accesssvc.NewService(inviter, messenger, accesssvc.Config{
		ChannelID:   cfg.Bot.ChannelID,
		InviteTTL:   cfg.Invite.TTL,
		MemberLimit: cfg.Invite.MemberLimit,
	}, logger)

	paymentService := paymentsvc.NewService(purchaseRepo, accessService, paymentsvc.Config{
		FixedTermDuration: cfg.Plans.Duration,
	}, logger)
	subscriptionService := subsvc.NewService(purchaseRepo)

	app := &App{
		cfg:           cfg,
		logger:        logger,
		postgres:      pool,
		redis:         redisClient,
		bot:           bot,
		conversations: conversationRepo,
		payments:      paymentService,
		subscriptions: subscriptionService,
		access:        accessService,
	}
	if bot != nil {
		app.client = bot
	}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")

	if a.bot == nil {
		<-ctx.Done()
		a.logger.Info("bot app stopped")
		return nil
	}

	err := a.bot.Listen(ctx, tginfra.Handlers{
		OnCommand:  a.handleCommand,
		OnText:     a.handleText,
		OnCallback: a.handleCallback,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.logger.Info("bot app stopped")
	return nil
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
