// Package ledger реализует адаптер внешнего реестра: переводы базового актива
// и выпуск/погашение токенов-клеймов. Все движения ценности проходят через
// этот пакет и требуют действительного авторизатора.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/tokenvault/internal/models"
)

// Authorizer описывает идентичность, авторизующую движение средств.
// Владелец авторизует операции напрямую (Proof пуст), производная идентичность
// хранилища предъявляет доказательство деривации, которое проверяется
// пересчетом при каждом вызове.
type Authorizer struct {
	ID      uuid.UUID
	VaultID uuid.UUID
	Proof   string
}

// OwnerAuthorizer возвращает авторизатора-владельца.
// Идентичность владельца к этому моменту уже установлена аутентификацией.
func OwnerAuthorizer(ownerID uuid.UUID) Authorizer {
	return Authorizer{ID: ownerID}
}

// AuthorityAuthorizer возвращает авторизатора от имени производной идентичности хранилища.
func AuthorityAuthorizer(authorityID, vaultID uuid.UUID, proof string) Authorizer {
	return Authorizer{ID: authorityID, VaultID: vaultID, Proof: proof}
}

// Derived сообщает, является ли авторизатор производной идентичностью.
func (a Authorizer) Derived() bool {
	return a.Proof != ""
}

// Ledger определяет операции внешнего реестра, необходимые машине состояний
// хранилища. Методы принимают sqlx.ExtContext: вызывающая сторона решает,
// в какой транзакции выполняются движения.
type Ledger interface {
	// CreateAccount заводит счет реестра. Для custody-счетов ownerID равен nil,
	// контролером выступает производная идентичность хранилища.
	CreateAccount(
		ctx context.Context,
		exec sqlx.ExtContext,
		assetID uuid.UUID,
		ownerID *uuid.UUID,
		controller uuid.UUID,
		kind string,
	) (*models.LedgerAccount, error)
	// CreateMint заводит эмиссию токенов-клеймов хранилища с указанной
	// идентичностью в роли эмитента.
	CreateMint(ctx context.Context, exec sqlx.ExtContext, vaultID, authorityID uuid.UUID) (*models.TokenMint, error)
	GetAccount(ctx context.Context, exec sqlx.ExtContext, accountID uuid.UUID) (*models.LedgerAccount, error)
	GetMint(ctx context.Context, exec sqlx.ExtContext, mintID uuid.UUID) (*models.TokenMint, error)
	// FindAccount находит счет по (актив/эмиссия, владелец, вид).
	FindAccount(
		ctx context.Context,
		exec sqlx.ExtContext,
		assetID, ownerID uuid.UUID,
		kind string,
	) (*models.LedgerAccount, error)
	// CreditAccount начисляет средства на счет без списания откуда-либо
	// (пополнение счета актива извне системы). Возвращает новый баланс.
	CreditAccount(ctx context.Context, exec sqlx.ExtContext, accountID uuid.UUID, amount uint64) (uint64, error)

	// Transfer переводит amount со счета from на счет to. Отклоняется
	// с ErrTransferRejected, если авторизатор не подтвержден контролером
	// счета-источника или средств недостаточно.
	Transfer(ctx context.Context, exec sqlx.ExtContext, fromID, toID uuid.UUID, auth Authorizer, amount uint64) error
	// Mint выпускает amount клеймов на счет to. Авторизатором обязана быть
	// производная идентичность хранилища, то есть эмитент.
	Mint(ctx context.Context, exec sqlx.ExtContext, mintID, toID uuid.UUID, auth Authorizer, amount uint64) error
	// Burn погашает amount клеймов со счета from. Погашение авторизует
	// владелец счета напрямую: уничтожить клеймы может только тот, кто ими
	// владеет, тогда как выпускать их может только хранилище.
	Burn(ctx context.Context, exec sqlx.ExtContext, mintID, fromID uuid.UUID, auth Authorizer, amount uint64) error
}

// Кастомные ошибки реестра.
var (
	ErrAccountNotFound   = errors.New("счет реестра не найден")
	ErrMintNotFound      = errors.New("эмиссия клеймов не найдена")
	ErrTransferRejected  = errors.New("перевод отклонен реестром")
	ErrInsufficientClaim = errors.New("недостаточно клеймов для погашения")
	ErrUnauthorized      = errors.New("авторизатор не подтвержден")
	ErrBalanceOverflow   = errors.New("переполнение баланса счета")
)
