package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/providers"
	"github.com/BrunoS-V/telegram-vip-bot/internal/transport/http/handlers"
)

type Dependencies struct {
	Registry       *providers.Registry
	PaymentService *paymentsvc.Service
	Logger         *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	webhookHandler := handlers.NewWebhookHandler(deps.Registry, deps.PaymentService, deps.Logger)

	r.Get("/healthz", healthHandler.Handle)
	r.Post("/webhooks/{provider}", webhookHandler.Handle)
}
