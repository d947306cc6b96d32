package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	"github.com/BrunoS-V/telegram-vip-bot/internal/pkg/validate"
	pgrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/postgres"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrUnsupportedPlan     = errors.New("unsupported plan")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// PurchaseStore is the durable record of purchase attempts. Lookups and the
// transition are linearizable per record; the engine re-reads through the
// store on every invocation and never caches a record across calls.
type PurchaseStore interface {
	CreatePending(ctx context.Context, purchaserID int64, provider, plan string) (pgrepo.PurchaseRecord, error)
	AttachContact(ctx context.Context, recordID, contact string) error
	AttachContactForPurchaser(ctx context.Context, purchaserID int64, contact string) error
	FindByProviderReference(ctx context.Context, provider, ref string) (pgrepo.PurchaseRecord, error)
	FindByContact(ctx context.Context, contact string) (pgrepo.PurchaseRecord, error)
	Transition(ctx context.Context, params pgrepo.TransitionParams) (pgrepo.PurchaseRecord, error)
}

// Granter is invoked exactly once per record transition into approved.
type Granter interface {
	Grant(ctx context.Context, purchaserID int64, plan enums.Plan) error
}

// Event is a provider callback normalized to the canonical vocabulary.
// At least one of ProviderRef and Contact must resolve to a record,
// otherwise the event is unmatched.
type Event struct {
	Provider    string
	ProviderRef string
	Contact     string
	Status      enums.PaymentStatus
	PlanHint    enums.Plan
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeReplayed  Outcome = "replayed"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeConflict  Outcome = "conflict"
)

type ReconcileResult struct {
	Outcome Outcome
	Record  pgrepo.PurchaseRecord
	Granted bool
}

type Config struct {
	// FixedTermDuration is the validity window of the fixed-term plan,
	// counted from the moment of approval.
	FixedTermDuration time.Duration
}

type Service struct {
	store   PurchaseStore
	granter Granter
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store PurchaseStore, granter Granter, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FixedTermDuration <= 0 {
		cfg.FixedTermDuration = 30 * 24 * time.Hour
	}
	return &Service{
		store:   store,
		granter: granter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateIntent records that a purchaser picked a plan. The record starts
// pending and waits for a provider callback to move it anywhere else.
func (s *Service) CreateIntent(ctx context.Context, purchaserID int64, provider string, plan enums.Plan) (pgrepo.PurchaseRecord, error) {
	if s.store == nil {
		return pgrepo.PurchaseRecord{}, fmt.Errorf("purchase store is nil")
	}
	if purchaserID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}
	if _, ok := enums.ParsePlan(string(plan)); !ok {
		return pgrepo.PurchaseRecord{}, ErrUnsupportedPlan
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return pgrepo.PurchaseRecord{}, ErrUnsupportedProvider
	}

	rec, err := s.store.CreatePending(ctx, purchaserID, provider, string(plan))
	if err != nil {
		return pgrepo.PurchaseRecord{}, fmt.Errorf("create pending purchase: %w", err)
	}
	return rec, nil
}

// AttachContact stores the purchaser's contact address on a record so
// contact-correlated callbacks can find it. With an empty recordID the
// purchaser's most recent record is used.
func (s *Service) AttachContact(ctx context.Context, purchaserID int64, recordID, contact string) error {
	if s.store == nil {
		return fmt.Errorf("purchase store is nil")
	}
	if !validate.Email(contact) {
		return ErrValidation
	}

	if strings.TrimSpace(recordID) != "" {
		return s.store.AttachContact(ctx, recordID, contact)
	}
	if purchaserID <= 0 {
		return ErrValidation
	}
	return s.store.AttachContactForPurchaser(ctx, purchaserID, contact)
}

// Reconcile applies one normalized provider event to the ledger.
//
// The same event delivered N times yields exactly one applied transition:
// replays compare equal on status and never touch approved_at or re-trigger
// the grant. When a concurrent transition wins the race the engine
// re-resolves and retries once, then reports a conflict outcome and leaves
// the rest to the provider's own retry.
func (s *Service) Reconcile(ctx context.Context, ev Event) (ReconcileResult, error) {
	if s.store == nil {
		return ReconcileResult{}, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(ev.Provider) == "" {
		return ReconcileResult{}, ErrValidation
	}
	if _, ok := enums.ParsePaymentStatus(string(ev.Status)); !ok {
		return ReconcileResult{}, ErrValidation
	}

	for attempt := 0; attempt < 2; attempt++ {
		rec, found, err := s.resolve(ctx, ev)
		if err != nil {
			return ReconcileResult{}, err
		}
		if !found {
			// Possibly a purchase this system never initiated, or a
			// callback outrunning local bookkeeping. Not an error.
			s.logger.Info("provider event matched no purchase",
				zap.String("provider", ev.Provider),
				zap.String("provider_ref", ev.ProviderRef),
			)
			return ReconcileResult{Outcome: OutcomeUnmatched}, nil
		}

		current := enums.PaymentStatus(rec.Status)
		needsBind := rec.ProviderReference == nil && strings.TrimSpace(ev.ProviderRef) != ""

		if current == ev.Status && !needsBind {
			return ReconcileResult{Outcome: OutcomeReplayed, Record: rec}, nil
		}

		params := pgrepo.TransitionParams{
			RecordID:       rec.ID,
			ExpectedStatus: rec.Status,
			NewStatus:      string(ev.Status),
			ProviderRef:    ev.ProviderRef,
		}

		var plan enums.Plan
		entering := ev.Status == enums.PaymentStatusApproved && current != enums.PaymentStatusApproved
		if entering {
			parsed, ok := enums.ParsePlan(rec.Plan)
			if !ok {
				return ReconcileResult{}, fmt.Errorf("purchase %s carries unknown plan %q", rec.ID, rec.Plan)
			}
			plan = parsed

			approvedAt := s.now().UTC()
			params.ApprovedAt = &approvedAt
			if !plan.Perpetual() {
				expiresAt := approvedAt.Add(s.cfg.FixedTermDuration)
				params.ExpiresAt = &expiresAt
			}
		}

		updated, err := s.store.Transition(ctx, params)
		if err != nil {
			if errors.Is(err, pgrepo.ErrTransitionConflict) || errors.Is(err, pgrepo.ErrProviderRefConflict) {
				s.logger.Debug("purchase transition lost a race, re-resolving",
					zap.String("record_id", rec.ID),
					zap.Int("attempt", attempt),
				)
				continue
			}
			if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
				return ReconcileResult{Outcome: OutcomeUnmatched}, nil
			}
			return ReconcileResult{}, fmt.Errorf("transition purchase %s: %w", rec.ID, err)
		}

		result := ReconcileResult{Outcome: OutcomeApplied, Record: updated}
		if current == ev.Status {
			// Reference binding on an otherwise identical status.
			result.Outcome = OutcomeReplayed
		}
		if !entering {
			return result, nil
		}

		result.Granted = true
		if s.granter != nil {
			if err := s.granter.Grant(ctx, updated.PurchaserID, plan); err != nil {
				// The approval is already persisted; the grant failure is
				// permanent from this engine's perspective and surfaces to
				// the caller for manual follow-up.
				return result, fmt.Errorf("grant access for purchase %s: %w", updated.ID, err)
			}
		}
		return result, nil
	}

	return ReconcileResult{Outcome: OutcomeConflict}, nil
}

func (s *Service) resolve(ctx context.Context, ev Event) (pgrepo.PurchaseRecord, bool, error) {
	if ref := strings.TrimSpace(ev.ProviderRef); ref != "" {
		rec, err := s.store.FindByProviderReference(ctx, ev.Provider, ref)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return pgrepo.PurchaseRecord{}, false, fmt.Errorf("resolve by provider reference: %w", err)
		}
	}

	if contact := strings.TrimSpace(ev.Contact); contact != "" {
		rec, err := s.store.FindByContact(ctx, contact)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return pgrepo.PurchaseRecord{}, false, fmt.Errorf("resolve by contact: %w", err)
		}
	}

	return pgrepo.PurchaseRecord{}, false, nil
}
