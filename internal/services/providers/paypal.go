package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
)

const KindPayPal = "paypal"

// PayPal is the push-complete provider family: the callback embeds the final
// status, no secondary fetch happens, and correlation runs purely on the
// payer's contact address because the receiver never handed the provider a
// reference of its own.
type PayPal struct{}

func NewPayPal() *PayPal {
	return &PayPal{}
}

func (p *PayPal) Kind() string {
	return KindPayPal
}

func (p *PayPal) Normalize(_ context.Context, req CallbackRequest) (payments.Event, error) {
	fields := p.callbackFields(req)

	txnID := strings.TrimSpace(fields.Get("txn_id"))
	payerEmail := strings.ToLower(strings.TrimSpace(fields.Get("payer_email")))
	if txnID == "" && payerEmail == "" {
		return payments.Event{}, fmt.Errorf("%w: paypal callback carries neither txn_id nor payer_email", ErrMalformedCallback)
	}

	status := strings.TrimSpace(fields.Get("payment_status"))
	if status == "" {
		return payments.Event{}, fmt.Errorf("%w: paypal callback carries no payment_status", ErrMalformedCallback)
	}

	ev := payments.Event{
		Provider:    KindPayPal,
		ProviderRef: txnID,
		Contact:     payerEmail,
		Status:      mapPayPalStatus(status),
	}
	if plan, ok := enums.ParsePlan(fields.Get("item_number")); ok {
		ev.PlanHint = plan
	}
	return ev, nil
}

// callbackFields merges the form-encoded body over the query string; an
// explicit top-level query parameter still wins for the reference.
func (p *PayPal) callbackFields(req CallbackRequest) url.Values {
	fields := url.Values{}
	if body, err := url.ParseQuery(string(req.Body)); err == nil {
		for key, values := range body {
			fields[key] = values
		}
	}
	for key, values := range req.Query {
		fields[key] = values
	}
	return fields
}

func mapPayPalStatus(raw string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed":
		return enums.PaymentStatusApproved
	case "denied", "failed", "refunded", "reversed":
		return enums.PaymentStatusRejected
	case "pending":
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusUnknown
	}
}
