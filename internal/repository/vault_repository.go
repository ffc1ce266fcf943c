package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/tokenvault/internal/models"
)

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolationCode = "23505"
)

// VaultRepository определяет методы для работы с записями хранилищ.
// Методы принимают sqlx.ExtContext, чтобы несколько обращений могли
// выполняться в одной транзакции операции.
type VaultRepository interface {
	CreateVault(ctx context.Context, exec sqlx.ExtContext, vault *models.Vault) error
	GetVault(ctx context.Context, exec sqlx.ExtContext, ownerID, assetID uuid.UUID) (*models.Vault, error)
	// GetVaultForUpdate блокирует строку хранилища до конца транзакции:
	// операции над одним хранилищем сериализуются, над разными идут параллельно.
	GetVaultForUpdate(ctx context.Context, exec sqlx.ExtContext, ownerID, assetID uuid.UUID) (*models.Vault, error)
	UpdateNetDeposit(ctx context.Context, exec sqlx.ExtContext, vaultID uuid.UUID, netDeposit uint64) error
}

// postgresVaultRepository реализует VaultRepository для PostgreSQL.
type postgresVaultRepository struct{}

// NewPostgresVaultRepository создает новый экземпляр репозитория хранилищ.
func NewPostgresVaultRepository() VaultRepository {
	return &postgresVaultRepository{}
}

const vaultColumns = `id, owner_id, asset_id, net_deposit, initialized, reserved_yield,
	          authority_id, authority_proof, custody_account_id, claim_mint_id, created_at, updated_at`

// CreateVault создает запись хранилища.
// Возвращает ErrVaultExists, если хранилище для пары (владелец, актив) уже есть.
func (r *postgresVaultRepository) CreateVault(ctx context.Context, exec sqlx.ExtContext, vault *models.Vault) error {
	query := `INSERT INTO vaults (id, owner_id, asset_id, net_deposit, initialized,
	              authority_id, authority_proof, custody_account_id, claim_mint_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := exec.ExecContext(ctx, query,
		vault.ID, vault.OwnerID, vault.AssetID, uintArg(vault.NetDeposit), vault.Initialized,
		vault.AuthorityID, vault.AuthorityProof, vault.CustodyAccountID, vault.ClaimMintID)
	if err != nil {
		// Проверяем на ошибку нарушения уникальности (duplicate key)
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Printf("[VaultRepo] Хранилище для владельца %s и актива %s уже существует", vault.OwnerID, vault.AssetID)
			return ErrVaultExists // Возвращаем кастомную ошибку
		}
		log.Printf("[VaultRepo] Непредвиденная ошибка при создании хранилища %s: %v", vault.ID, err)
		return fmt.Errorf("ошибка выполнения запроса на создание хранилища: %w", err)
	}

	log.Printf("[VaultRepo] Хранилище %s создано для владельца %s, актив %s", vault.ID, vault.OwnerID, vault.AssetID)
	return nil
}

// GetVault находит запись хранилища по паре (владелец, актив).
func (r *postgresVaultRepository) GetVault(
	ctx context.Context,
	exec sqlx.ExtContext,
	ownerID, assetID uuid.UUID,
) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE owner_id=$1 AND asset_id=$2`
	return r.getVault(ctx, exec, query, ownerID, assetID)
}

// GetVaultForUpdate находит запись хранилища и удерживает блокировку строки
// до завершения транзакции.
func (r *postgresVaultRepository) GetVaultForUpdate(
	ctx context.Context,
	exec sqlx.ExtContext,
	ownerID, assetID uuid.UUID,
) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE owner_id=$1 AND asset_id=$2 FOR UPDATE`
	return r.getVault(ctx, exec, query, ownerID, assetID)
}

func (r *postgresVaultRepository) getVault(
	ctx context.Context,
	exec sqlx.ExtContext,
	query string,
	ownerID, assetID uuid.UUID,
) (*models.Vault, error) {
	var vault models.Vault

	err := sqlx.GetContext(ctx, exec, &vault, query, ownerID, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[VaultRepo] Хранилище для владельца %s и актива %s не найдено", ownerID, assetID)
			return nil, ErrVaultNotFound
		}
		log.Printf("[VaultRepo] Ошибка при поиске хранилища для владельца %s: %v", ownerID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение хранилища: %w", err)
	}

	return &vault, nil
}

// UpdateNetDeposit записывает новое значение счетчика внесенных средств.
func (r *postgresVaultRepository) UpdateNetDeposit(
	ctx context.Context,
	exec sqlx.ExtContext,
	vaultID uuid.UUID,
	netDeposit uint64,
) error {
	query := `UPDATE vaults SET net_deposit=$1, updated_at=NOW() WHERE id=$2`

	res, err := exec.ExecContext(ctx, query, uintArg(netDeposit), vaultID)
	if err != nil {
		log.Printf("[VaultRepo] Ошибка обновления net_deposit хранилища %s: %v", vaultID, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление хранилища: %w", err)
	}
	if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows == 0 {
		log.Printf("[VaultRepo] Хранилище %s не найдено при обновлении net_deposit", vaultID)
		return ErrVaultNotFound
	}

	log.Printf("[VaultRepo] net_deposit хранилища %s обновлен до %d", vaultID, netDeposit)
	return nil
}

// uintArg готовит uint64 к передаче в запрос: драйвер не принимает
// значения со старшим битом, колонки NUMERIC принимают строку.
func uintArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Кастомные ошибки репозитория.
var (
	ErrVaultNotFound = errors.New("хранилище не найдено")
	ErrVaultExists   = errors.New("хранилище уже существует")
)
