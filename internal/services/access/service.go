package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
)

// ErrGrantIssuanceFailed means no usable invite link was produced. The
// purchase record keeps whatever status it already reached; issuance is
// retried by replaying the provider event or by the purchaser asking again.
var ErrGrantIssuanceFailed = errors.New("grant issuance failed")

// Inviter creates single-use, short-lived join links for the gated channel.
type Inviter interface {
	CreateInviteLink(ctx context.Context, chatID int64, ttl time.Duration, memberLimit int) (string, error)
}

// Messenger delivers text to a purchaser's direct chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	ChannelID   int64
	InviteTTL   time.Duration
	MemberLimit int
}

// Service turns an approved purchase into channel access. Every grant mints
// a fresh invite link; links are single-use and expire on their own, so a
// repeated request is answered with a new link rather than a cached one.
type Service struct {
	inviter   Inviter
	messenger Messenger
	cfg       Config
	log       *zap.Logger
}

func NewService(inviter Inviter, messenger Messenger, cfg Config, log *zap.Logger) *Service {
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 10 * time.Minute
	}
	if cfg.MemberLimit <= 0 {
		cfg.MemberLimit = 1
	}
	return &Service{
		inviter:   inviter,
		messenger: messenger,
		cfg:       cfg,
		log:       log,
	}
}

// Grant issues an invite link for purchaserID and tries to deliver it.
// Issuance failure is reported to the caller; delivery failure is not, the
// link already exists and the purchaser can request it again from the bot.
func (s *Service) Grant(ctx context.Context, purchaserID int64, plan enums.Plan) error {
	if s.inviter == nil {
		return fmt.Errorf("%w: inviter is not configured", ErrGrantIssuanceFailed)
	}

	link, err := s.inviter.CreateInviteLink(ctx, s.cfg.ChannelID, s.cfg.InviteTTL, s.cfg.MemberLimit)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGrantIssuanceFailed, err)
	}

	if s.messenger != nil {
		if err := s.messenger.SendText(ctx, purchaserID, grantMessage(plan, link)); err != nil {
			s.log.Warn("invite link issued but not delivered",
				zap.Int64("purchaser_id", purchaserID),
				zap.Error(err))
		}
	}

	return nil
}

func grantMessage(plan enums.Plan, link string) string {
	if plan.Perpetual() {
		return fmt.Sprintf("Your lifetime VIP access is ready. Join here: %s\nThe link works once and expires soon, use it right away.", link)
	}
	return fmt.Sprintf("Your VIP subscription is active. Join here: %s\nThe link works once and expires soon, use it right away.", link)
}
