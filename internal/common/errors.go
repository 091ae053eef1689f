// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отправлять пользователю понятные сообщения.
package common

import "errors"

// Ошибки кошелька
var (
	// ErrInsufficientBalance — недостаточно средств на счёте
	ErrInsufficientBalance = errors.New("недостаточно средств на счёте")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrWalletNotFound — кошелёк не найден в базе
	ErrWalletNotFound = errors.New("кошелёк не найден")
	// ErrRefundExhausted — возврат по этому списанию уже выполнен полностью
	ErrRefundExhausted = errors.New("возврат по списанию уже выполнен")
	// ErrUnknownReversal — токен возврата не выдавался этим процессом
	ErrUnknownReversal = errors.New("неизвестный токен возврата")
)

// Ошибки подарка за активацию
var (
	// ErrAlreadyActive — подарок уже получен
	ErrAlreadyActive = errors.New("кошелёк уже активирован")
	// ErrGiftNotAllowed — статус не позволяет получить подарок
	ErrGiftNotAllowed = errors.New("подарок недоступен для этого аккаунта")
)

// Ошибки антиспама
var (
	// ErrBanned — пользователь заблокирован
	ErrBanned = errors.New("аккаунт заблокирован")
)

// Ошибки QR-входа
var (
	// ErrProviderUnavailable — сервис QR-входа не ответил
	ErrProviderUnavailable = errors.New("сервис QR-входа недоступен")
)

// Ошибки магазина и рассылки
var (
	// ErrItemNotFound — товар не найден в каталоге
	ErrItemNotFound = errors.New("товар не найден")
	// ErrOutOfStock — товар закончился
	ErrOutOfStock = errors.New("товар закончился")
	// ErrNotActivated — покупки доступны только после активации
	ErrNotActivated = errors.New("кошелёк не активирован")
	// ErrTooManyCredentials — слишком много аккаунтов за одну покупку
	ErrTooManyCredentials = errors.New("слишком много аккаунтов в одной покупке")
	// ErrNoCredentials — не передано ни одного cookie и сохранённого нет
	ErrNoCredentials = errors.New("нет данных входа для покупки")
	// ErrBroadcastCooldown — рассылка запускалась слишком недавно
	ErrBroadcastCooldown = errors.New("подождите перед следующей рассылкой")
	// ErrBroadcastInProgress — рассылка уже идёт
	ErrBroadcastInProgress = errors.New("рассылка уже выполняется")
)
