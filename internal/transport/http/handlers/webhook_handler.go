package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/services/access"
	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/providers"
	"github.com/BrunoS-V/telegram-vip-bot/internal/transport/http/dto"
	httperrors "github.com/BrunoS-V/telegram-vip-bot/internal/transport/http/errors"
)

const maxCallbackBody = 1 << 20

// WebhookHandler receives raw provider callbacks, normalizes them and feeds
// the result to the reconciliation engine.
//
// The status code is the contract with the provider's retry loop: 2xx means
// "stop resending this event", 5xx means "try again later". Malformed and
// unmatched callbacks are acknowledged with 200 because redelivery cannot
// make them matchable; fetch failures and lost races come back as 503.
type WebhookHandler struct {
	registry *providers.Registry
	payments *paymentsvc.Service
	log      *zap.Logger
}

func NewWebhookHandler(registry *providers.Registry, payments *paymentsvc.Service, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{
		registry: registry,
		payments: payments,
		log:      log,
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "PAYMENTS_SERVICE_UNAVAILABLE",
			Message: "payments service is unavailable",
		})
		return
	}

	kind := chi.URLParam(r, "provider")
	normalizer, ok := h.registry.Lookup(kind)
	if !ok {
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
			Code:    "UNKNOWN_PROVIDER",
			Message: "unknown payment provider",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.log.Warn("failed to read callback body",
			zap.String("provider", kind),
			zap.Error(err))
		httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Outcome: "ignored"})
		return
	}

	event, err := normalizer.Normalize(r.Context(), providers.CallbackRequest{
		Query: r.URL.Query(),
		Body:  body,
	})
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrMalformedCallback):
			h.log.Info("ignoring malformed provider callback",
				zap.String("provider", kind),
				zap.Error(err))
			httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Outcome: "ignored"})
		case errors.Is(err, providers.ErrStatusFetchFailed):
			h.log.Warn("provider status fetch failed, requesting redelivery",
				zap.String("provider", kind),
				zap.Error(err))
			httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
				Code:    "STATUS_FETCH_FAILED",
				Message: "could not confirm payment status",
			})
		default:
			h.log.Error("normalizer failed",
				zap.String("provider", kind),
				zap.Error(err))
			httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
				Code:    "INTERNAL_ERROR",
				Message: "failed to process callback",
			})
		}
		return
	}

	result, err := h.payments.Reconcile(r.Context(), event)
	if err != nil {
		if errors.Is(err, access.ErrGrantIssuanceFailed) {
			// The approval is already durable. Redelivery would replay
			// without re-granting, so the provider is told to stop; the
			// purchaser recovers the invite through the bot.
			h.log.Error("approval recorded but access grant failed",
				zap.String("provider", kind),
				zap.String("record_id", result.Record.ID),
				zap.Error(err))
			httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Outcome: string(result.Outcome)})
			return
		}
		if errors.Is(err, paymentsvc.ErrValidation) {
			httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Outcome: "ignored"})
			return
		}
		h.log.Error("reconciliation failed",
			zap.String("provider", kind),
			zap.Error(err))
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "INTERNAL_ERROR",
			Message: "failed to process callback",
		})
		return
	}

	if result.Outcome == paymentsvc.OutcomeConflict {
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "TRANSITION_CONFLICT",
			Message: "concurrent update, please redeliver",
		})
		return
	}

	httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Outcome: string(result.Outcome)})
}
