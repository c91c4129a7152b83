// Package economy — handlers.go обрабатывает HTTP-запросы кассы:
// проведение операций, история по карте и дашборд.
package economy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/valuecard/internal/common"
	"serotonyl.ru/valuecard/internal/features/loyalty"
	"serotonyl.ru/valuecard/internal/server/respond"
)

// Processor проводит операцию (Engine или обёртка над ним).
type Processor interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// Handler обрабатывает запросы экономики.
type Handler struct {
	engine Processor
	stats  *StatsService
}

// NewHandler создаёт обработчик операций и статистики.
func NewHandler(engine Processor, stats *StatsService) *Handler {
	return &Handler{engine: engine, stats: stats}
}

// Routes регистрирует маршруты операций и дашборда.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/transactions", h.HandleProcess)
	r.Get("/transactions", h.HandleHistory)
	r.Get("/members/{cardID}/transactions", h.HandleHistory)
	r.Get("/dashboard", h.HandleDashboard)
}

// processBody — тело запроса на операцию. Сумма разбирается отдельно,
// чтобы нечисловое значение давало INVALID_AMOUNT, а не INVALID_BODY.
type processBody struct {
	CardID    string          `json:"card_id"`
	Type      loyalty.TxType  `json:"type"`
	Amount    json.RawMessage `json:"amount"`
	Note      string          `json:"note"`
	StaffName string          `json:"staff_name"`
}

func (b processBody) request() (Request, error) {
	req := Request{
		CardID:    b.CardID,
		Type:      b.Type,
		Note:      b.Note,
		StaffName: b.StaffName,
	}
	if len(b.Amount) == 0 {
		return req, nil
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(b.Amount); err != nil {
		return Request{}, fmt.Errorf("%w: %s", common.ErrInvalidAmount, b.Amount)
	}
	req.Amount = amount
	return req, nil
}

type processResponse struct {
	Success bool   `json:"success"`
	Data    Result `json:"data"`
}

// HandleProcess проводит пополнение или оплату.
//
// Тело:
//
//	{"card_id":"CF10050","type":"TOPUP","amount":500,"note":"","staff_name":"Nok"}
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var body processBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Fail(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	req, err := body.request()
	if err != nil {
		respond.Error(w, err)
		return
	}

	res, err := h.engine.Process(r.Context(), req)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, processResponse{Success: true, Data: res})
}

// HandleHistory отдаёт последние операции по карте (из пути или ?card_id=).
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardID")
	if cardID == "" {
		cardID = r.URL.Query().Get("card_id")
	}

	txs, err := h.stats.History(r.Context(), cardID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, txs)
}

// HandleDashboard отдаёт цифры за период (?period=today|week|month).
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		respond.Error(w, err)
		return
	}

	stats, err := h.stats.Dashboard(r.Context(), period)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}
