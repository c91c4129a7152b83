// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях сервиса.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отдавать кассиру понятное сообщение.
package common

import "errors"

// Ошибки участников (карты, регистрация)
var (
	// ErrMemberNotFound — нет записи для указанного номера карты или телефона
	ErrMemberNotFound = errors.New("участник не найден")
	// ErrUnregisteredCard — карта выпущена, но владелец ещё не привязан
	ErrUnregisteredCard = errors.New("карта не зарегистрирована")
	// ErrAlreadyActive — попытка активировать карту, у которой уже есть владелец
	ErrAlreadyActive = errors.New("карта уже активирована")
	// ErrDuplicatePhone — телефон уже привязан к другому активному участнику
	ErrDuplicatePhone = errors.New("телефон уже используется другим участником")
	// ErrInvalidPhone — телефон пустой или содержит недопустимые символы
	ErrInvalidPhone = errors.New("некорректный номер телефона")
	// ErrInvalidName — имя владельца пустое
	ErrInvalidName = errors.New("имя владельца не может быть пустым")
	// ErrInvalidCardID — пустой номер карты
	ErrInvalidCardID = errors.New("некорректный номер карты")
)

// Ошибки движка транзакций
var (
	// ErrInvalidAmount — сумма не положительная или точнее копейки (сатанга)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInvalidType — тип операции не TOPUP и не PAYMENT
	ErrInvalidType = errors.New("неизвестный тип операции")
	// ErrInsufficientBalance — оплата больше текущего баланса
	ErrInsufficientBalance = errors.New("недостаточно средств на карте")
	// ErrUpdateFailed — запись снимка участника не подтверждена (включая таймаут).
	// Итоговое состояние неизвестно, нужна ручная сверка.
	ErrUpdateFailed = errors.New("не удалось сохранить баланс")
	// ErrLockTimeout — не дождались освобождения карты другим запросом
	ErrLockTimeout = errors.New("карта занята другой операцией, повторите позже")
)

// Ошибки хранилища
var (
	// ErrVersionConflict — запись изменилась между чтением и условной записью.
	// Ничего не записано, можно перечитать и пересчитать.
	ErrVersionConflict = errors.New("конфликт версий записи")
)

// Ошибки настроек
var (
	// ErrInvalidTiers — таблица уровней не проходит проверку
	ErrInvalidTiers = errors.New("некорректная таблица уровней")
)

// ErrInvalidPeriod — период дашборда не today, week или month
var ErrInvalidPeriod = errors.New("неизвестный период статистики")
