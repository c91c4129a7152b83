// Package members — handlers.go обрабатывает HTTP-запросы кассы по участникам.
package members

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/valuecard/internal/server/respond"
)

// Handler обрабатывает запросы участников.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик участников.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes регистрирует маршруты /members.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/members", h.HandleSearch)
	r.Post("/members", h.HandleRegister)
	r.Get("/members/{cardID}", h.HandleLookup)
	r.Post("/members/{cardID}/activate", h.HandleActivate)
	r.Put("/members/{cardID}", h.HandleUpdate)
}

// memberView — участник в ответе кассе.
type memberView struct {
	*Member
	IsActive bool `json:"isActive"`
}

// unregisteredView — ответ для пустой или неизвестной карты.
// Статус 200: это не ошибка, касса открывает форму регистрации.
type unregisteredView struct {
	CardID         string `json:"card_id"`
	IsUnregistered bool   `json:"isUnregistered"`
	IsActive       bool   `json:"isActive"`
}

func (h *Handler) writeLookup(w http.ResponseWriter, res LookupResult) {
	if res.Unregistered {
		respond.JSON(w, http.StatusOK, unregisteredView{CardID: res.CardID, IsUnregistered: true})
		return
	}
	respond.JSON(w, http.StatusOK, memberView{Member: res.Member, IsActive: true})
}

// HandleSearch: без ?search= отдаёт всех участников, иначе ищет одну карту.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("search")
	if query == "" {
		list, err := h.service.List(r.Context())
		if err != nil {
			respond.Error(w, err)
			return
		}
		if list == nil {
			list = []Member{}
		}
		respond.JSON(w, http.StatusOK, list)
		return
	}

	res, err := h.service.Lookup(r.Context(), query)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.writeLookup(w, res)
}

// HandleLookup ищет карту по номеру или телефону из пути.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Lookup(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.writeLookup(w, res)
}

// HandleRegister регистрирует нового участника.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	m, err := h.service.Register(r.Context(), req.Name, req.Phone)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, memberView{Member: m, IsActive: true})
}

// HandleActivate привязывает владельца к указанной пустой карте.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	m, err := h.service.Activate(r.Context(), chi.URLParam(r, "cardID"), req.Name, req.Phone)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, memberView{Member: m, IsActive: true})
}

// HandleUpdate меняет имя и телефон.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	m, err := h.service.UpdateProfile(r.Context(), chi.URLParam(r, "cardID"), req)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, memberView{Member: m, IsActive: true})
}
