package handlers

import (
	"net/http"

	"github.com/BrunoS-V/telegram-vip-bot/internal/transport/http/dto"
	httperrors "github.com/BrunoS-V/telegram-vip-bot/internal/transport/http/errors"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	httperrors.Write(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}
