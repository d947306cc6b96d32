package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	pgrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/postgres"
)

var ErrValidation = errors.New("validation error")

type PurchaseStore interface {
	MostRecentFor(ctx context.Context, purchaserID int64) (pgrepo.PurchaseRecord, error)
}

type Kind string

const (
	KindNoRecord        Kind = "no_record"
	KindPendingApproval Kind = "pending_approval"
	KindActivePerpetual Kind = "active_perpetual"
	KindActive          Kind = "active"
	KindExpired         Kind = "expired"
)

// Snapshot answers "is this purchaser currently entitled, and until when".
// ExpiresAt is set for Active and Expired.
type Snapshot struct {
	Kind      Kind
	Plan      enums.Plan
	ExpiresAt *time.Time
}

// Service is the read path over the purchase ledger. It never mutates state
// and never triggers a grant; re-granting on an active snapshot is the
// caller's decision.
type Service struct {
	store PurchaseStore
	now   func() time.Time
}

func NewService(store PurchaseStore) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

func (s *Service) Status(ctx context.Context, purchaserID int64) (Snapshot, error) {
	if s.store == nil {
		return Snapshot{}, fmt.Errorf("purchase store is nil")
	}
	if purchaserID <= 0 {
		return Snapshot{}, ErrValidation
	}

	rec, err := s.store.MostRecentFor(ctx, purchaserID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return Snapshot{Kind: KindNoRecord}, nil
		}
		return Snapshot{}, fmt.Errorf("load latest purchase: %w", err)
	}

	plan, _ := enums.ParsePlan(rec.Plan)

	switch enums.PaymentStatus(rec.Status) {
	case enums.PaymentStatusPending:
		return Snapshot{Kind: KindPendingApproval, Plan: plan}, nil
	case enums.PaymentStatusApproved:
		if plan.Perpetual() {
			return Snapshot{Kind: KindActivePerpetual, Plan: plan}, nil
		}
		if rec.ExpiresAt == nil {
			return Snapshot{}, fmt.Errorf("approved fixed-term purchase %s has no expiry", rec.ID)
		}
		if s.now().Before(*rec.ExpiresAt) {
			return Snapshot{Kind: KindActive, Plan: plan, ExpiresAt: rec.ExpiresAt}, nil
		}
		return Snapshot{Kind: KindExpired, Plan: plan, ExpiresAt: rec.ExpiresAt}, nil
	default:
		// Rejected and unknown outcomes entitle nothing.
		return Snapshot{Kind: KindNoRecord, Plan: plan}, nil
	}
}
