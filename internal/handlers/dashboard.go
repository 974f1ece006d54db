package handlers

import (
	"net/http"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/services"
)

type DashboardHandler struct {
	svc *services.DashboardService
}

func NewDashboardHandler(svc *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(r.Context(), id.AccountID)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, stats)
	return nil
}
