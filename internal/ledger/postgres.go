package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/tokenvault/internal/authority"
	"github.com/maynagashev/tokenvault/internal/models"
)

// postgresLedger реализует Ledger поверх PostgreSQL.
// Проверка производных авторизаторов делегируется authority.Deriver.
type postgresLedger struct {
	deriver *authority.Deriver
}

// Проверка соответствия интерфейсу.
var _ Ledger = (*postgresLedger)(nil)

// NewPostgresLedger создает новый экземпляр реестра поверх PostgreSQL.
func NewPostgresLedger(deriver *authority.Deriver) Ledger {
	return &postgresLedger{deriver: deriver}
}

const accountColumns = `id, asset_id, owner_id, controller, kind, balance, created_at`

// CreateAccount заводит счет реестра с нулевым балансом.
func (l *postgresLedger) CreateAccount(
	ctx context.Context,
	exec sqlx.ExtContext,
	assetID uuid.UUID,
	ownerID *uuid.UUID,
	controller uuid.UUID,
	kind string,
) (*models.LedgerAccount, error) {
	account := &models.LedgerAccount{
		ID:         uuid.New(),
		AssetID:    assetID,
		OwnerID:    ownerID,
		Controller: controller,
		Kind:       kind,
	}
	query := `INSERT INTO ledger_accounts (id, asset_id, owner_id, controller, kind, balance)
	          VALUES ($1, $2, $3, $4, $5, 0)`

	_, err := exec.ExecContext(ctx, query, account.ID, account.AssetID, account.OwnerID, account.Controller, account.Kind)
	if err != nil {
		log.Printf("[Ledger] Ошибка создания счета (%s) для актива %s: %v", kind, assetID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на создание счета: %w", err)
	}

	log.Printf("[Ledger] Счет %s (%s) создан, контролер %s", account.ID, kind, controller)
	return account, nil
}

// CreateMint заводит эмиссию клеймов хранилища с нулевым объемом выпуска.
func (l *postgresLedger) CreateMint(
	ctx context.Context,
	exec sqlx.ExtContext,
	vaultID, authorityID uuid.UUID,
) (*models.TokenMint, error) {
	mint := &models.TokenMint{
		ID:        uuid.New(),
		VaultID:   vaultID,
		Authority: authorityID,
	}
	query := `INSERT INTO token_mints (id, vault_id, authority, supply) VALUES ($1, $2, $3, 0)`

	_, err := exec.ExecContext(ctx, query, mint.ID, mint.VaultID, mint.Authority)
	if err != nil {
		log.Printf("[Ledger] Ошибка создания эмиссии клеймов для хранилища %s: %v", vaultID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на создание эмиссии: %w", err)
	}

	log.Printf("[Ledger] Эмиссия клеймов %s создана для хранилища %s", mint.ID, vaultID)
	return mint, nil
}

// GetAccount находит счет по идентификатору.
func (l *postgresLedger) GetAccount(
	ctx context.Context,
	exec sqlx.ExtContext,
	accountID uuid.UUID,
) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE id=$1`
	return l.getAccount(ctx, exec, query, accountID)
}

// GetMint находит эмиссию клеймов по идентификатору.
func (l *postgresLedger) GetMint(
	ctx context.Context,
	exec sqlx.ExtContext,
	mintID uuid.UUID,
) (*models.TokenMint, error) {
	query := `SELECT id, vault_id, authority, supply, created_at FROM token_mints WHERE id=$1`
	var mint models.TokenMint

	err := sqlx.GetContext(ctx, exec, &mint, query, mintID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[Ledger] Эмиссия клеймов %s не найдена", mintID)
			return nil, ErrMintNotFound
		}
		log.Printf("[Ledger] Ошибка при поиске эмиссии %s: %v", mintID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение эмиссии: %w", err)
	}

	return &mint, nil
}

// FindAccount находит счет по (актив/эмиссия, владелец, вид).
func (l *postgresLedger) FindAccount(
	ctx context.Context,
	exec sqlx.ExtContext,
	assetID, ownerID uuid.UUID,
	kind string,
) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE asset_id=$1 AND owner_id=$2 AND kind=$3`
	var account models.LedgerAccount

	err := sqlx.GetContext(ctx, exec, &account, query, assetID, ownerID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[Ledger] Счет (%s) владельца %s для %s не найден", kind, ownerID, assetID)
			return nil, ErrAccountNotFound
		}
		log.Printf("[Ledger] Ошибка при поиске счета владельца %s: %v", ownerID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на поиск счета: %w", err)
	}

	return &account, nil
}

// CreditAccount начисляет средства на счет и возвращает новый баланс.
func (l *postgresLedger) CreditAccount(
	ctx context.Context,
	exec sqlx.ExtContext,
	accountID uuid.UUID,
	amount uint64,
) (uint64, error) {
	account, err := l.getAccountForUpdate(ctx, exec, accountID)
	if err != nil {
		return 0, err
	}

	newBalance, err := checkedAdd(account.Balance, amount)
	if err != nil {
		log.Printf("[Ledger] Начисление %d на счет %s отклонено: баланс %d переполнится", amount, accountID, account.Balance)
		return 0, err
	}
	if err = l.setBalance(ctx, exec, accountID, newBalance); err != nil {
		return 0, err
	}

	log.Printf("[Ledger] На счет %s начислено %d, баланс %d", accountID, amount, newBalance)
	return newBalance, nil
}

// Transfer переводит amount со счета from на счет to в рамках текущей транзакции.
func (l *postgresLedger) Transfer(
	ctx context.Context,
	exec sqlx.ExtContext,
	fromID, toID uuid.UUID,
	auth Authorizer,
	amount uint64,
) error {
	from, err := l.getAccountForUpdate(ctx, exec, fromID)
	if err != nil {
		return err
	}

	// Авторизатор обязан быть подтвержден контролером счета-источника
	if err = l.authorize(from, auth); err != nil {
		log.Printf("[Ledger] Перевод со счета %s отклонен: %v", fromID, err)
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}

	if from.Balance < amount {
		log.Printf("[Ledger] Перевод со счета %s отклонен: баланс %d меньше %d", fromID, from.Balance, amount)
		return fmt.Errorf("%w: недостаточно средств", ErrTransferRejected)
	}

	to, err := l.getAccountForUpdate(ctx, exec, toID)
	if err != nil {
		return err
	}
	if to.AssetID != from.AssetID || to.Kind != from.Kind {
		log.Printf("[Ledger] Перевод %s -> %s отклонен: счета разных активов", fromID, toID)
		return fmt.Errorf("%w: счета относятся к разным активам", ErrTransferRejected)
	}

	toBalance, err := checkedAdd(to.Balance, amount)
	if err != nil {
		log.Printf("[Ledger] Перевод %s -> %s отклонен: баланс счета-получателя переполнится", fromID, toID)
		return err
	}

	if err = l.setBalance(ctx, exec, fromID, from.Balance-amount); err != nil {
		return err
	}
	if err = l.setBalance(ctx, exec, toID, toBalance); err != nil {
		return err
	}

	log.Printf("[Ledger] Переведено %d со счета %s на счет %s", amount, fromID, toID)
	return nil
}

// Mint выпускает amount клеймов на счет to.
func (l *postgresLedger) Mint(
	ctx context.Context,
	exec sqlx.ExtContext,
	mintID, toID uuid.UUID,
	auth Authorizer,
	amount uint64,
) error {
	mint, err := l.getMintForUpdate(ctx, exec, mintID)
	if err != nil {
		return err
	}

	// Выпуск авторизует только эмитент, то есть производная идентичность хранилища
	if !auth.Derived() || mint.Authority != auth.ID || !l.deriver.Verify(auth.VaultID, auth.ID, auth.Proof) {
		log.Printf("[Ledger] Выпуск клеймов эмиссии %s отклонен: авторизатор %s не подтвержден", mintID, auth.ID)
		return ErrUnauthorized
	}

	to, err := l.getAccountForUpdate(ctx, exec, toID)
	if err != nil {
		return err
	}
	if to.Kind != models.AccountKindClaim || to.AssetID != mintID {
		log.Printf("[Ledger] Выпуск клеймов на счет %s отклонен: счет не относится к эмиссии %s", toID, mintID)
		return fmt.Errorf("%w: счет не относится к эмиссии", ErrTransferRejected)
	}

	toBalance, err := checkedAdd(to.Balance, amount)
	if err != nil {
		log.Printf("[Ledger] Выпуск %d клеймов эмиссии %s отклонен: баланс счета %s переполнится", amount, mintID, toID)
		return err
	}
	supply, err := checkedAdd(mint.Supply, amount)
	if err != nil {
		log.Printf("[Ledger] Выпуск %d клеймов эмиссии %s отклонен: объем выпуска переполнится", amount, mintID)
		return err
	}

	if err = l.setBalance(ctx, exec, toID, toBalance); err != nil {
		return err
	}
	if err = l.setSupply(ctx, exec, mintID, supply); err != nil {
		return err
	}

	log.Printf("[Ledger] Выпущено %d клеймов эмиссии %s на счет %s", amount, mintID, toID)
	return nil
}

// Burn погашает amount клеймов со счета from.
func (l *postgresLedger) Burn(
	ctx context.Context,
	exec sqlx.ExtContext,
	mintID, fromID uuid.UUID,
	auth Authorizer,
	amount uint64,
) error {
	mint, err := l.getMintForUpdate(ctx, exec, mintID)
	if err != nil {
		return err
	}

	from, err := l.getAccountForUpdate(ctx, exec, fromID)
	if err != nil {
		return err
	}
	if from.Kind != models.AccountKindClaim || from.AssetID != mintID {
		log.Printf("[Ledger] Погашение со счета %s отклонено: счет не относится к эмиссии %s", fromID, mintID)
		return fmt.Errorf("%w: счет не относится к эмиссии", ErrTransferRejected)
	}

	// Погашение авторизует владелец счета напрямую, а не эмитент
	if auth.Derived() || from.Controller != auth.ID {
		log.Printf("[Ledger] Погашение со счета %s отклонено: авторизатор %s не является владельцем", fromID, auth.ID)
		return ErrUnauthorized
	}

	if from.Balance < amount {
		log.Printf("[Ledger] Погашение со счета %s отклонено: клеймов %d меньше %d", fromID, from.Balance, amount)
		return ErrInsufficientClaim
	}

	if err = l.setBalance(ctx, exec, fromID, from.Balance-amount); err != nil {
		return err
	}
	if err = l.setSupply(ctx, exec, mintID, mint.Supply-amount); err != nil {
		return err
	}

	log.Printf("[Ledger] Погашено %d клеймов эмиссии %s со счета %s", amount, mintID, fromID)
	return nil
}

// authorize проверяет авторизатора против контролера счета.
// Счета без владельца (custody) контролируются производной идентичностью,
// поэтому для них обязательна проверка доказательства деривации.
func (l *postgresLedger) authorize(account *models.LedgerAccount, auth Authorizer) error {
	if account.Controller != auth.ID {
		return errors.New("авторизатор не совпадает с контролером счета")
	}
	if account.OwnerID == nil || auth.Derived() {
		if !auth.Derived() {
			return errors.New("для custody-счета требуется доказательство деривации")
		}
		if !l.deriver.Verify(auth.VaultID, auth.ID, auth.Proof) {
			return errors.New("доказательство деривации не прошло проверку")
		}
	}
	return nil
}

// getAccountForUpdate читает счет и удерживает блокировку строки до конца транзакции.
func (l *postgresLedger) getAccountForUpdate(
	ctx context.Context,
	exec sqlx.ExtContext,
	accountID uuid.UUID,
) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE id=$1 FOR UPDATE`
	return l.getAccount(ctx, exec, query, accountID)
}

func (l *postgresLedger) getAccount(
	ctx context.Context,
	exec sqlx.ExtContext,
	query string,
	accountID uuid.UUID,
) (*models.LedgerAccount, error) {
	var account models.LedgerAccount

	err := sqlx.GetContext(ctx, exec, &account, query, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[Ledger] Счет %s не найден", accountID)
			return nil, ErrAccountNotFound
		}
		log.Printf("[Ledger] Ошибка при чтении счета %s: %v", accountID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение счета: %w", err)
	}

	return &account, nil
}

func (l *postgresLedger) getMintForUpdate(
	ctx context.Context,
	exec sqlx.ExtContext,
	mintID uuid.UUID,
) (*models.TokenMint, error) {
	query := `SELECT id, vault_id, authority, supply, created_at FROM token_mints WHERE id=$1 FOR UPDATE`
	var mint models.TokenMint

	err := sqlx.GetContext(ctx, exec, &mint, query, mintID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[Ledger] Эмиссия клеймов %s не найдена", mintID)
			return nil, ErrMintNotFound
		}
		log.Printf("[Ledger] Ошибка при чтении эмиссии %s: %v", mintID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение эмиссии: %w", err)
	}

	return &mint, nil
}

func (l *postgresLedger) setBalance(ctx context.Context, exec sqlx.ExtContext, accountID uuid.UUID, balance uint64) error {
	query := `UPDATE ledger_accounts SET balance=$1 WHERE id=$2`
	if _, err := exec.ExecContext(ctx, query, uintArg(balance), accountID); err != nil {
		log.Printf("[Ledger] Ошибка обновления баланса счета %s: %v", accountID, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление баланса: %w", err)
	}
	return nil
}

func (l *postgresLedger) setSupply(ctx context.Context, exec sqlx.ExtContext, mintID uuid.UUID, supply uint64) error {
	query := `UPDATE token_mints SET supply=$1 WHERE id=$2`
	if _, err := exec.ExecContext(ctx, query, uintArg(supply), mintID); err != nil {
		log.Printf("[Ledger] Ошибка обновления объема эмиссии %s: %v", mintID, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление эмиссии: %w", err)
	}
	return nil
}

// checkedAdd складывает беззнаковые суммы, отклоняя переполнение.
func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrBalanceOverflow
	}
	return a + b, nil
}

// uintArg готовит uint64 к передаче в запрос: драйвер не принимает
// значения со старшим битом, колонки NUMERIC принимают строку.
func uintArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}
