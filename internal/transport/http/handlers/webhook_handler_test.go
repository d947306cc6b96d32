package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	pgrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/postgres"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/access"
	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/providers"
)

type fakeNormalizer struct {
	kind  string
	event paymentsvc.Event
	err   error
}

func (f *fakeNormalizer) Kind() string { return f.kind }

func (f *fakeNormalizer) Normalize(ctx context.Context, req providers.CallbackRequest) (paymentsvc.Event, error) {
	if f.err != nil {
		return paymentsvc.Event{}, f.err
	}
	return f.event, nil
}

type storeStub struct {
	record      pgrepo.PurchaseRecord
	hasRecord   bool
	transitions int
}

func (s *storeStub) CreatePending(ctx context.Context, purchaserID int64, provider, plan string) (pgrepo.PurchaseRecord, error) {
	return pgrepo.PurchaseRecord{}, errors.New("not used")
}

func (s *storeStub) AttachContact(ctx context.Context, recordID, contact string) error { return nil }

func (s *storeStub) AttachContactForPurchaser(ctx context.Context, purchaserID int64, contact string) error {
	return nil
}

func (s *storeStub) FindByProviderReference(ctx context.Context, provider, ref string) (pgrepo.PurchaseRecord, error) {
	if !s.hasRecord {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return s.record, nil
}

func (s *storeStub) FindByContact(ctx context.Context, contact string) (pgrepo.PurchaseRecord, error) {
	if !s.hasRecord {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return s.record, nil
}

func (s *storeStub) Transition(ctx context.Context, params pgrepo.TransitionParams) (pgrepo.PurchaseRecord, error) {
	s.transitions++
	rec := s.record
	rec.Status = params.NewStatus
	if params.ApprovedAt != nil {
		rec.ApprovedAt = params.ApprovedAt
	}
	if params.ExpiresAt != nil {
		rec.ExpiresAt = params.ExpiresAt
	}
	s.record = rec
	return rec, nil
}

type granterStub struct {
	err   error
	calls int
}

func (g *granterStub) Grant(ctx context.Context, purchaserID int64, plan enums.Plan) error {
	g.calls++
	return g.err
}

func newTestRouter(store *storeStub, granter *granterStub, normalizers ...providers.Normalizer) *chi.Mux {
	payments := paymentsvc.NewService(store, granter, paymentsvc.Config{}, zap.NewNop())
	handler := NewWebhookHandler(providers.NewRegistry(normalizers...), payments, zap.NewNop())

	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", handler.Handle)
	return r
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookUnknownProvider(t *testing.T) {
	router := newTestRouter(&storeStub{}, &granterStub{})

	rec := post(t, router, "/webhooks/stripe", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookMalformedCallbackIsAcknowledged(t *testing.T) {
	store := &storeStub{}
	router := newTestRouter(store, &granterStub{},
		&fakeNormalizer{kind: "fake", err: fmt.Errorf("%w: no reference", providers.ErrMalformedCallback)})

	rec := post(t, router, "/webhooks/fake", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.transitions != 0 {
		t.Fatalf("transitions = %d, want 0", store.transitions)
	}
	if !strings.Contains(rec.Body.String(), "ignored") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWebhookStatusFetchFailureAsksForRedelivery(t *testing.T) {
	router := newTestRouter(&storeStub{}, &granterStub{},
		&fakeNormalizer{kind: "fake", err: fmt.Errorf("%w: timeout", providers.ErrStatusFetchFailed)})

	rec := post(t, router, "/webhooks/fake", "{}")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookUnmatchedEventIsAcknowledged(t *testing.T) {
	store := &storeStub{}
	router := newTestRouter(store, &granterStub{}, &fakeNormalizer{
		kind: "fake",
		event: paymentsvc.Event{
			Provider:    "fake",
			ProviderRef: "ref-1",
			Status:      enums.PaymentStatusApproved,
		},
	})

	rec := post(t, router, "/webhooks/fake", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(paymentsvc.OutcomeUnmatched)) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if store.transitions != 0 {
		t.Fatalf("transitions = %d, want 0", store.transitions)
	}
}

func TestWebhookApprovalIsAppliedAndGranted(t *testing.T) {
	store := &storeStub{
		hasRecord: true,
		record: pgrepo.PurchaseRecord{
			ID:          "p-1",
			Provider:    "fake",
			PurchaserID: 42,
			Plan:        string(enums.PlanVIPMonth),
			Status:      string(enums.PaymentStatusPending),
		},
	}
	granter := &granterStub{}
	router := newTestRouter(store, granter, &fakeNormalizer{
		kind: "fake",
		event: paymentsvc.Event{
			Provider:    "fake",
			ProviderRef: "ref-1",
			Status:      enums.PaymentStatusApproved,
		},
	})

	rec := post(t, router, "/webhooks/fake", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(paymentsvc.OutcomeApplied)) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if granter.calls != 1 {
		t.Fatalf("grant calls = %d, want 1", granter.calls)
	}
}

func TestWebhookGrantFailureStopsRedelivery(t *testing.T) {
	store := &storeStub{
		hasRecord: true,
		record: pgrepo.PurchaseRecord{
			ID:          "p-1",
			Provider:    "fake",
			PurchaserID: 42,
			Plan:        string(enums.PlanVIPMonth),
			Status:      string(enums.PaymentStatusPending),
		},
	}
	granter := &granterStub{err: fmt.Errorf("%w: telegram down", access.ErrGrantIssuanceFailed)}
	router := newTestRouter(store, granter, &fakeNormalizer{
		kind: "fake",
		event: paymentsvc.Event{
			Provider:    "fake",
			ProviderRef: "ref-1",
			Status:      enums.PaymentStatusApproved,
		},
	})

	rec := post(t, router, "/webhooks/fake", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.record.Status != string(enums.PaymentStatusApproved) {
		t.Fatalf("record status = %s, approval must persist", store.record.Status)
	}
}
