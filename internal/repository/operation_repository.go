package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/tokenvault/internal/models"
)

// OperationRepository определяет методы для работы с журналом операций хранилищ.
type OperationRepository interface {
	// AppendOperation добавляет запись журнала; вызывается в транзакции
	// самой операции, чтобы журнал не расходился с состоянием хранилища.
	AppendOperation(ctx context.Context, exec sqlx.ExtContext, op *models.Operation) error
	ListByVaultID(
		ctx context.Context,
		exec sqlx.ExtContext,
		vaultID uuid.UUID,
		limit, offset int,
	) ([]models.Operation, error)
}

// postgresOperationRepository реализует OperationRepository для PostgreSQL.
type postgresOperationRepository struct{}

// NewPostgresOperationRepository создает новый экземпляр репозитория журнала операций.
func NewPostgresOperationRepository() OperationRepository {
	return &postgresOperationRepository{}
}

// AppendOperation добавляет запись в журнал операций.
func (r *postgresOperationRepository) AppendOperation(
	ctx context.Context,
	exec sqlx.ExtContext,
	op *models.Operation,
) error {
	query := `INSERT INTO operations (vault_id, kind, amount, net_deposit_after) VALUES ($1, $2, $3, $4) RETURNING id`

	err := exec.QueryRowxContext(ctx, query, op.VaultID, op.Kind, uintArg(op.Amount), uintArg(op.NetDepositAfter)).Scan(&op.ID)
	if err != nil {
		log.Printf("[OperationRepo] Ошибка записи операции '%s' для хранилища %s: %v", op.Kind, op.VaultID, err)
		return fmt.Errorf("ошибка выполнения запроса на запись операции: %w", err)
	}

	log.Printf("[OperationRepo] Операция '%s' (%d) записана для хранилища %s", op.Kind, op.Amount, op.VaultID)
	return nil
}

// ListByVaultID возвращает записи журнала хранилища от новых к старым.
func (r *postgresOperationRepository) ListByVaultID(
	ctx context.Context,
	exec sqlx.ExtContext,
	vaultID uuid.UUID,
	limit, offset int,
) ([]models.Operation, error) {
	query := `SELECT id, vault_id, kind, amount, net_deposit_after, created_at
	          FROM operations WHERE vault_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	operations := make([]models.Operation, 0)

	err := sqlx.SelectContext(ctx, exec, &operations, query, vaultID, limit, offset)
	if err != nil {
		log.Printf("[OperationRepo] Ошибка при чтении журнала хранилища %s: %v", vaultID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на чтение журнала: %w", err)
	}

	return operations, nil
}
