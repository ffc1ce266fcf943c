package services

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/tokenvault/internal/ledger"
	"github.com/maynagashev/tokenvault/internal/models"
	"github.com/maynagashev/tokenvault/internal/repository"
)

// AssetService определяет интерфейс реестра активов и пополнения счетов.
type AssetService interface {
	CreateAsset(ctx context.Context, symbol string, decimals int32) (*models.Asset, error)
	// FundAccount пополняет счет актива владельца извне системы
	// (поступление средств со стороны внешнего реестра). Возвращает новый баланс.
	FundAccount(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error)
}

// Проверка соответствия интерфейсу.
var _ AssetService = (*assetService)(nil)

type assetService struct {
	db        *sqlx.DB
	assetRepo repository.AssetRepository
	ledger    ledger.Ledger
}

// NewAssetService создает новый экземпляр сервиса активов.
func NewAssetService(db *sqlx.DB, assetRepo repository.AssetRepository, ldg ledger.Ledger) AssetService {
	return &assetService{db: db, assetRepo: assetRepo, ledger: ldg}
}

// CreateAsset регистрирует новый тип базового актива.
func (s *assetService) CreateAsset(ctx context.Context, symbol string, decimals int32) (*models.Asset, error) {
	asset := &models.Asset{
		ID:       uuid.New(),
		Symbol:   symbol,
		Decimals: decimals,
	}

	if err := s.assetRepo.CreateAsset(ctx, asset); err != nil {
		if errors.Is(err, repository.ErrAssetExists) {
			log.Printf("[AssetService] Актив '%s' уже зарегистрирован", symbol)
			return nil, ErrAssetExists
		}
		log.Printf("[AssetService] Ошибка регистрации актива '%s': %v", symbol, err)
		return nil, errors.New("внутренняя ошибка сервера при регистрации актива")
	}

	log.Printf("[AssetService] Актив '%s' зарегистрирован (ID: %s)", symbol, asset.ID)
	return asset, nil
}

// FundAccount начисляет amount на счет актива владельца, создавая счет
// при первом обращении.
func (s *assetService) FundAccount(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error) {
	if amount == 0 {
		log.Printf("[AssetService] Отклонено пополнение нулевой суммой (владелец %s)", ownerID)
		return 0, ErrInvalidAmount
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[AssetService] Ошибка открытия транзакции пополнения: %v", err)
		return 0, errors.New("внутренняя ошибка сервера при открытии транзакции")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.assetRepo.GetAssetByID(ctx, tx, assetID); err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return 0, ErrAssetNotFound
		}
		log.Printf("[AssetService] Ошибка проверки актива %s: %v", assetID, err)
		return 0, errors.New("внутренняя ошибка сервера при проверке актива")
	}

	account, err := s.ledger.FindAccount(ctx, tx, assetID, ownerID, models.AccountKindAsset)
	if err != nil {
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			log.Printf("[AssetService] Ошибка поиска счета владельца %s: %v", ownerID, err)
			return 0, errors.New("внутренняя ошибка сервера при поиске счета")
		}
		// Первое пополнение: заводим счет владельца под его собственным контролем
		account, err = s.ledger.CreateAccount(ctx, tx, assetID, &ownerID, ownerID, models.AccountKindAsset)
		if err != nil {
			log.Printf("[AssetService] Ошибка создания счета владельца %s: %v", ownerID, err)
			return 0, errors.New("внутренняя ошибка сервера при создании счета")
		}
	}

	balance, err := s.ledger.CreditAccount(ctx, tx, account.ID, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrBalanceOverflow) {
			log.Printf("[AssetService] Пополнение счета %s на %d отклонено: баланс переполнится", account.ID, amount)
			return 0, ErrArithmeticOverflow
		}
		log.Printf("[AssetService] Ошибка пополнения счета %s: %v", account.ID, err)
		return 0, errors.New("внутренняя ошибка сервера при пополнении счета")
	}

	if err = tx.Commit(); err != nil {
		log.Printf("[AssetService] Ошибка фиксации транзакции пополнения: %v", err)
		return 0, errors.New("внутренняя ошибка сервера при фиксации транзакции")
	}
	committed = true

	log.Printf("[AssetService] Счет %s владельца %s пополнен на %d, баланс %d", account.ID, ownerID, amount, balance)
	return balance, nil
}
