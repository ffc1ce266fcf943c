package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/tokenvault/internal/models"
)

// OwnerRepository определяет методы для работы с данными владельцев хранилищ.
type OwnerRepository interface {
	CreateOwner(ctx context.Context, owner *models.Owner) error
	GetOwnerByUsername(ctx context.Context, username string) (*models.Owner, error)
}

// postgresOwnerRepository реализует OwnerRepository для PostgreSQL.
type postgresOwnerRepository struct {
	db *sqlx.DB
}

// NewPostgresOwnerRepository создает новый экземпляр репозитория владельцев для PostgreSQL.
func NewPostgresOwnerRepository(db *sqlx.DB) OwnerRepository {
	return &postgresOwnerRepository{db: db}
}

// CreateOwner создает нового владельца в базе данных.
func (r *postgresOwnerRepository) CreateOwner(ctx context.Context, owner *models.Owner) error {
	query := `INSERT INTO owners (id, username, password_hash) VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, owner.ID, owner.Username, owner.PasswordHash)
	if err != nil {
		// Проверяем на ошибку нарушения уникальности (duplicate key)
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Printf("[OwnerRepo] Ошибка создания владельца: имя '%s' уже занято", owner.Username)
			return ErrUsernameTaken // Возвращаем кастомную ошибку
		}
		log.Printf("[OwnerRepo] Непредвиденная ошибка при создании владельца '%s': %v", owner.Username, err)
		return fmt.Errorf("ошибка выполнения запроса на создание владельца: %w", err)
	}

	log.Printf("[OwnerRepo] Владелец '%s' успешно создан с ID %s", owner.Username, owner.ID)
	return nil
}

// GetOwnerByUsername находит владельца по его имени.
func (r *postgresOwnerRepository) GetOwnerByUsername(ctx context.Context, username string) (*models.Owner, error) {
	query := `SELECT id, username, password_hash, created_at, updated_at FROM owners WHERE username=$1`
	var owner models.Owner

	err := r.db.GetContext(ctx, &owner, query, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[OwnerRepo] Владелец с именем '%s' не найден", username)
			return nil, ErrOwnerNotFound
		}
		log.Printf("[OwnerRepo] Ошибка при поиске владельца '%s': %v", username, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение владельца: %w", err)
	}

	log.Printf("[OwnerRepo] Найден владелец '%s' (ID: %s)", username, owner.ID)
	return &owner, nil
}

// Кастомные ошибки репозитория.
var (
	ErrOwnerNotFound = errors.New("владелец не найден")
	ErrUsernameTaken = errors.New("имя пользователя уже занято")
)
