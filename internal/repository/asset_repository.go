package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/tokenvault/internal/models"
)

// AssetRepository определяет методы для работы с реестром активов.
type AssetRepository interface {
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAssetByID(ctx context.Context, exec sqlx.ExtContext, assetID uuid.UUID) (*models.Asset, error)
}

// postgresAssetRepository реализует AssetRepository для PostgreSQL.
type postgresAssetRepository struct {
	db *sqlx.DB
}

// NewPostgresAssetRepository создает новый экземпляр репозитория активов.
func NewPostgresAssetRepository(db *sqlx.DB) AssetRepository {
	return &postgresAssetRepository{db: db}
}

// CreateAsset регистрирует новый актив.
func (r *postgresAssetRepository) CreateAsset(ctx context.Context, asset *models.Asset) error {
	query := `INSERT INTO assets (id, symbol, decimals) VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, asset.ID, asset.Symbol, asset.Decimals)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Printf("[AssetRepo] Актив с символом '%s' уже зарегистрирован", asset.Symbol)
			return ErrAssetExists
		}
		log.Printf("[AssetRepo] Непредвиденная ошибка при регистрации актива '%s': %v", asset.Symbol, err)
		return fmt.Errorf("ошибка выполнения запроса на регистрацию актива: %w", err)
	}

	log.Printf("[AssetRepo] Актив '%s' зарегистрирован с ID %s", asset.Symbol, asset.ID)
	return nil
}

// GetAssetByID находит актив по идентификатору.
func (r *postgresAssetRepository) GetAssetByID(
	ctx context.Context,
	exec sqlx.ExtContext,
	assetID uuid.UUID,
) (*models.Asset, error) {
	query := `SELECT id, symbol, decimals, created_at FROM assets WHERE id=$1`
	var asset models.Asset

	err := sqlx.GetContext(ctx, exec, &asset, query, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[AssetRepo] Актив %s не найден", assetID)
			return nil, ErrAssetNotFound
		}
		log.Printf("[AssetRepo] Ошибка при поиске актива %s: %v", assetID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение актива: %w", err)
	}

	return &asset, nil
}

// Кастомные ошибки репозитория.
var (
	ErrAssetNotFound = errors.New("актив не найден")
	ErrAssetExists   = errors.New("актив уже зарегистрирован")
)
