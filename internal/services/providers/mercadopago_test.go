package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
)

func newMercadoPagoTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMercadoPagoNormalizeFetchesAuthoritativeStatus(t *testing.T) {
	srv := newMercadoPagoTestServer(t, http.StatusOK, `{
		"status": "approved",
		"external_reference": "vip_month",
		"payer": {"email": "Buyer@X.com"}
	}`)

	mp := NewMercadoPago(srv.Client(), srv.URL, "test-token")
	ev, err := mp.Normalize(context.Background(), CallbackRequest{
		Query: url.Values{"type": {"payment"}, "id": {"12345"}},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if ev.Provider != KindMercadoPago || ev.ProviderRef != "12345" {
		t.Fatalf("unexpected event identity: %+v", ev)
	}
	if ev.Status != enums.PaymentStatusApproved {
		t.Fatalf("unexpected status: %s", ev.Status)
	}
	if ev.Contact != "buyer@x.com" {
		t.Fatalf("contact not normalized: %q", ev.Contact)
	}
	if ev.PlanHint != enums.PlanVIPMonth {
		t.Fatalf("plan hint not extracted: %q", ev.PlanHint)
	}
}

func TestMercadoPagoReferencePrecedence(t *testing.T) {
	srv := newMercadoPagoTestServer(t, http.StatusOK, `{"status": "pending"}`)
	mp := NewMercadoPago(srv.Client(), srv.URL, "test-token")

	// Explicit top-level parameter wins over the nested payload field.
	ev, err := mp.Normalize(context.Background(), CallbackRequest{
		Query: url.Values{"id": {"query-id"}},
		Body:  []byte(`{"data": {"id": "body-id"}}`),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ProviderRef != "query-id" {
		t.Fatalf("expected query id to win, got %q", ev.ProviderRef)
	}

	// Nested payload field is the fallback, numeric ids included.
	ev, err = mp.Normalize(context.Background(), CallbackRequest{
		Body: []byte(`{"data": {"id": 98765}}`),
	})
	if err != nil {
		t.Fatalf("normalize with body id: %v", err)
	}
	if ev.ProviderRef != "98765" {
		t.Fatalf("expected body id fallback, got %q", ev.ProviderRef)
	}
}

func TestMercadoPagoMalformedCallback(t *testing.T) {
	mp := NewMercadoPago(http.DefaultClient, "http://unused", "test-token")

	_, err := mp.Normalize(context.Background(), CallbackRequest{Query: url.Values{}})
	if !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback for missing id, got %v", err)
	}

	_, err = mp.Normalize(context.Background(), CallbackRequest{
		Query: url.Values{"topic": {"merchant_order"}, "id": {"555"}},
	})
	if !errors.Is(err, ErrMalformedCallback) {
		t.Fatalf("expected ErrMalformedCallback for foreign topic, got %v", err)
	}
}

func TestMercadoPagoStatusFetchFailures(t *testing.T) {
	srv := newMercadoPagoTestServer(t, http.StatusBadGateway, "upstream broken")
	mp := NewMercadoPago(srv.Client(), srv.URL, "test-token")

	_, err := mp.Normalize(context.Background(), CallbackRequest{
		Query: url.Values{"id": {"500"}},
	})
	if !errors.Is(err, ErrStatusFetchFailed) {
		t.Fatalf("expected ErrStatusFetchFailed on 502, got %v", err)
	}

	// A network-level failure maps the same way, never to a rejection.
	dead := NewMercadoPago(&http.Client{Timeout: 50 * time.Millisecond}, "http://127.0.0.1:1", "test-token")
	_, err = dead.Normalize(context.Background(), CallbackRequest{
		Query: url.Values{"id": {"500"}},
	})
	if !errors.Is(err, ErrStatusFetchFailed) {
		t.Fatalf("expected ErrStatusFetchFailed on connection error, got %v", err)
	}
}

func TestMercadoPagoStatusVocabulary(t *testing.T) {
	cases := map[string]enums.PaymentStatus{
		"approved":   enums.PaymentStatusApproved,
		"rejected":   enums.PaymentStatusRejected,
		"cancelled":  enums.PaymentStatusRejected,
		"pending":    enums.PaymentStatusPending,
		"in_process": enums.PaymentStatusPending,
		"authorized": enums.PaymentStatusPending,
		"charged_back": enums.PaymentStatusUnknown,
		"":           enums.PaymentStatusUnknown,
	}
	for raw, want := range cases {
		if got := mapMercadoPagoStatus(raw); got != want {
			t.Errorf("status %q: got %s want %s", raw, got, want)
		}
	}
}
