package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
)

type inviterStub struct {
	link  string
	err   error
	calls int

	gotChatID int64
	gotTTL    time.Duration
	gotLimit  int
}

func (i *inviterStub) CreateInviteLink(ctx context.Context, chatID int64, ttl time.Duration, memberLimit int) (string, error) {
	i.calls++
	i.gotChatID = chatID
	i.gotTTL = ttl
	i.gotLimit = memberLimit
	if i.err != nil {
		return "", i.err
	}
	return i.link, nil
}

type messengerStub struct {
	err   error
	sent  []string
	chats []int64
}

func (m *messengerStub) SendText(ctx context.Context, chatID int64, text string) error {
	m.chats = append(m.chats, chatID)
	m.sent = append(m.sent, text)
	return m.err
}

func TestGrantMintsFreshLinkEachCall(t *testing.T) {
	inviter := &inviterStub{link: "https://t.me/+abc"}
	messenger := &messengerStub{}
	svc := NewService(inviter, messenger, Config{ChannelID: -100, InviteTTL: 5 * time.Minute, MemberLimit: 1}, zap.NewNop())

	for n := 0; n < 2; n++ {
		if err := svc.Grant(context.Background(), 42, enums.PlanVIPMonth); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	}
	if inviter.calls != 2 {
		t.Fatalf("invite calls = %d, want 2", inviter.calls)
	}
	if inviter.gotChatID != -100 || inviter.gotTTL != 5*time.Minute || inviter.gotLimit != 1 {
		t.Fatalf("invite params = (%d, %s, %d)", inviter.gotChatID, inviter.gotTTL, inviter.gotLimit)
	}
	if len(messenger.sent) != 2 || messenger.chats[0] != 42 {
		t.Fatalf("deliveries = %v to %v", messenger.sent, messenger.chats)
	}
	if !strings.Contains(messenger.sent[0], "https://t.me/+abc") {
		t.Fatalf("delivered text misses link: %q", messenger.sent[0])
	}
}

func TestGrantIssuanceFailure(t *testing.T) {
	inviter := &inviterStub{err: errors.New("telegram 500")}
	messenger := &messengerStub{}
	svc := NewService(inviter, messenger, Config{ChannelID: -100}, zap.NewNop())

	err := svc.Grant(context.Background(), 42, enums.PlanVIPMonth)
	if !errors.Is(err, ErrGrantIssuanceFailed) {
		t.Fatalf("err = %v, want ErrGrantIssuanceFailed", err)
	}
	if len(messenger.sent) != 0 {
		t.Fatalf("delivered %v despite issuance failure", messenger.sent)
	}
}

func TestGrantDeliveryFailureIsNotFatal(t *testing.T) {
	inviter := &inviterStub{link: "https://t.me/+abc"}
	messenger := &messengerStub{err: errors.New("blocked by user")}
	svc := NewService(inviter, messenger, Config{ChannelID: -100}, zap.NewNop())

	if err := svc.Grant(context.Background(), 42, enums.PlanVIPMonth); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if inviter.calls != 1 {
		t.Fatalf("invite calls = %d, want 1", inviter.calls)
	}
}

func TestGrantDefaultsInviteBounds(t *testing.T) {
	inviter := &inviterStub{link: "https://t.me/+abc"}
	svc := NewService(inviter, nil, Config{ChannelID: -100}, zap.NewNop())

	if err := svc.Grant(context.Background(), 42, enums.PlanVIPLifetime); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if inviter.gotTTL != 10*time.Minute || inviter.gotLimit != 1 {
		t.Fatalf("defaults = (%s, %d), want (10m, 1)", inviter.gotTTL, inviter.gotLimit)
	}
}
