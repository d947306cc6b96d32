package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
)

const KindMercadoPago = "mercadopago"

// MercadoPago is the push-style provider family: the callback carries only a
// payment identifier and the receiver fetches the authoritative status from
// the provider's query API before trusting anything.
type MercadoPago struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

func NewMercadoPago(httpClient *http.Client, baseURL, accessToken string) *MercadoPago {
	return &MercadoPago{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessToken: strings.TrimSpace(accessToken),
	}
}

func (m *MercadoPago) Kind() string {
	return KindMercadoPago
}

func (m *MercadoPago) Normalize(ctx context.Context, req CallbackRequest) (payments.Event, error) {
	if topic := callbackTopic(req); topic != "" && topic != "payment" {
		return payments.Event{}, fmt.Errorf("%w: unsupported mercadopago topic %q", ErrMalformedCallback, topic)
	}

	ref := m.resolveReference(req)
	if ref == "" {
		return payments.Event{}, fmt.Errorf("%w: mercadopago callback carries no payment id", ErrMalformedCallback)
	}

	return m.FetchByReference(ctx, ref)
}

// FetchByReference asks the provider for the authoritative state of one
// payment. The recheck job uses this directly for stale pending records.
func (m *MercadoPago) FetchByReference(ctx context.Context, ref string) (payments.Event, error) {
	if m.httpClient == nil {
		return payments.Event{}, fmt.Errorf("mercadopago http client is nil")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return payments.Event{}, fmt.Errorf("%w: empty mercadopago payment id", ErrMalformedCallback)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/payments/"+ref, nil)
	if err != nil {
		return payments.Event{}, fmt.Errorf("build mercadopago status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.accessToken)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return payments.Event{}, fmt.Errorf("%w: %v", ErrStatusFetchFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payments.Event{}, fmt.Errorf("%w: mercadopago responded %d", ErrStatusFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return payments.Event{}, fmt.Errorf("%w: read status body: %v", ErrStatusFetchFailed, err)
	}

	var payload struct {
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
		Payer             struct {
			Email string `json:"email"`
		} `json:"payer"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return payments.Event{}, fmt.Errorf("%w: decode status body: %v", ErrStatusFetchFailed, err)
	}

	ev := payments.Event{
		Provider:    KindMercadoPago,
		ProviderRef: ref,
		Contact:     strings.ToLower(strings.TrimSpace(payload.Payer.Email)),
		Status:      mapMercadoPagoStatus(payload.Status),
	}
	if plan, ok := enums.ParsePlan(payload.ExternalReference); ok {
		ev.PlanHint = plan
	}
	return ev, nil
}

// resolveReference applies the id precedence: explicit top-level query
// parameter first, then the nested payload field.
func (m *MercadoPago) resolveReference(req CallbackRequest) string {
	if v := strings.TrimSpace(req.Query.Get("id")); v != "" {
		return v
	}
	if v := strings.TrimSpace(req.Query.Get("data.id")); v != "" {
		return v
	}

	if len(req.Body) == 0 {
		return ""
	}
	var payload struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Data.ID.String())
}

func callbackTopic(req CallbackRequest) string {
	topic := strings.TrimSpace(req.Query.Get("type"))
	if topic == "" {
		topic = strings.TrimSpace(req.Query.Get("topic"))
	}
	if topic != "" {
		return strings.ToLower(topic)
	}
	if len(req.Body) == 0 {
		return ""
	}
	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Type))
}

func mapMercadoPagoStatus(raw string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return enums.PaymentStatusApproved
	case "rejected", "cancelled":
		return enums.PaymentStatusRejected
	case "pending", "in_process", "authorized":
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusUnknown
	}
}
