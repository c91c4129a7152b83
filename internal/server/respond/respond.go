// Package respond — общие хелперы HTTP-ответов для обработчиков фич.
// Переводит доменные ошибки из common в HTTP-статусы и стабильные коды.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/common"
)

// ErrorBody — тело ответа с ошибкой.
// Code — машинный код для клиента, Message — текст для кассира.
type ErrorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

type mapping struct {
	err    error
	status int
	code   string
}

// Порядок важен: первое совпадение по errors.Is побеждает.
var mappings = []mapping{
	{common.ErrMemberNotFound, http.StatusNotFound, "MEMBER_NOT_FOUND"},
	{common.ErrUnregisteredCard, http.StatusConflict, "UNREGISTERED_CARD"},
	{common.ErrAlreadyActive, http.StatusConflict, "ALREADY_ACTIVE"},
	{common.ErrDuplicatePhone, http.StatusConflict, "DUPLICATE_PHONE"},
	{common.ErrInvalidPhone, http.StatusBadRequest, "INVALID_PHONE"},
	{common.ErrInvalidName, http.StatusBadRequest, "INVALID_NAME"},
	{common.ErrInvalidCardID, http.StatusBadRequest, "INVALID_CARD_ID"},
	{common.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{common.ErrInvalidType, http.StatusBadRequest, "INVALID_TYPE"},
	{common.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	{common.ErrInvalidPeriod, http.StatusBadRequest, "INVALID_PERIOD"},
	{common.ErrLockTimeout, http.StatusServiceUnavailable, "CARD_BUSY"},
	{common.ErrUpdateFailed, http.StatusBadGateway, "UPDATE_FAILED"},
	{common.ErrInvalidTiers, http.StatusBadRequest, "INVALID_TIERS"},
}

// JSON пишет v как JSON с указанным статусом.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Ошибка записи JSON-ответа")
	}
}

// Fail пишет ошибку с явным статусом и кодом.
func Fail(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Code: code, Message: message})
}

// Error переводит доменную ошибку в ответ. Неизвестные ошибки → 500 без деталей.
func Error(w http.ResponseWriter, err error) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			Fail(w, m.status, m.code, m.err.Error())
			return
		}
	}
	log.WithError(err).Error("Необработанная ошибка в HTTP-обработчике")
	Fail(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "внутренняя ошибка сервера")
}

// Decode читает JSON-тело запроса. Неизвестные поля запрещены.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
