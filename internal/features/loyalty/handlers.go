// Package loyalty — handlers.go обрабатывает HTTP-запросы настроек:
// GET /api/settings, PUT /api/settings.
package loyalty

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/server/respond"
)

// Handler обрабатывает запросы настроек магазина.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик настроек.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes регистрирует маршруты настроек.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/settings", h.HandleGet)
	r.Put("/settings", h.HandleUpdate)
}

type settingsResponse struct {
	Setting Settings `json:"setting"`
	Tiers   Table    `json:"tiers"`
}

type tierInput struct {
	Name       string          `json:"name"`
	MinSpend   decimal.Decimal `json:"minSpend"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Color      string          `json:"color"`
}

type updateRequest struct {
	Setting *SettingsPatch `json:"setting"`
	Tiers   []tierInput    `json:"tiers"`
}

// HandleGet отдаёт текущие настройки и таблицу уровней.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Current(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, settingsResponse{Setting: st, Tiers: st.Tiers})
}

// HandleUpdate меняет настройки и/или заменяет таблицу уровней.
// Таблица проверяется до записи настроек, чтобы не сохранить половину изменений.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var tiers []Tier
	if req.Tiers != nil {
		for _, t := range req.Tiers {
			tiers = append(tiers, Tier{Name: t.Name, MinSpend: t.MinSpend, Multiplier: t.Multiplier, Color: t.Color})
		}
		if _, err := NewTable(tiers); err != nil {
			respond.Error(w, err)
			return
		}
	}

	if req.Setting != nil {
		if err := h.service.Update(r.Context(), *req.Setting); err != nil {
			respond.Error(w, err)
			return
		}
	}
	if tiers != nil {
		if _, err := h.service.ReplaceTiers(r.Context(), tiers); err != nil {
			respond.Error(w, err)
			return
		}
	}

	h.HandleGet(w, r)
}
