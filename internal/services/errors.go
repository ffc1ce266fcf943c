package services

import (
	"errors"

	"github.com/maynagashev/tokenvault/internal/ledger"
)

// Общий словарь ошибок операций хранилища. Все ошибки синхронные,
// операция при любой из них откатывается целиком.
var (
	// Ошибки входных данных: вызывающая сторона исправляет запрос.
	ErrInvalidAmount = errors.New("недопустимая сумма операции")

	// Ошибки жизненного цикла: структурное злоупотребление вызовом.
	ErrAlreadyInitialized = errors.New("хранилище уже инициализировано")
	ErrNotInitialized     = errors.New("хранилище не инициализировано")

	// Ошибки авторизации: без другого принципала повтор не поможет.
	ErrUnauthorized = errors.New("операция не авторизована")

	// Ресурсные ошибки: нужно изменить запрашиваемую сумму.
	ErrTransferRejected  = errors.New("перевод средств отклонен")
	ErrInsufficientClaim = errors.New("недостаточно клеймов")

	// Ошибки защиты инвариантов: запрос исказил бы учет, отклоняется всегда.
	ErrArithmeticOverflow  = errors.New("переполнение счетчика внесенных средств")
	ErrArithmeticUnderflow = errors.New("уход счетчика внесенных средств в минус")

	// Прочие ошибки сервисного слоя.
	ErrAssetNotFound      = errors.New("актив не найден")
	ErrAssetExists        = errors.New("актив уже зарегистрирован")
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	ErrUsernameTaken      = errors.New("имя пользователя уже занято")
)

// mapLedgerError переводит ошибки реестра в ошибки сервисного слоя.
func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientClaim):
		return ErrInsufficientClaim
	case errors.Is(err, ledger.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, ledger.ErrTransferRejected):
		return ErrTransferRejected
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return ErrArithmeticOverflow
	case errors.Is(err, ledger.ErrAccountNotFound):
		// Отсутствие счета-источника неотличимо для вызывающего от отказа перевода
		return ErrTransferRejected
	default:
		return errors.New("внутренняя ошибка сервера при обращении к реестру")
	}
}
