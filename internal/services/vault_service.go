package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/tokenvault/internal/authority"
	"github.com/maynagashev/tokenvault/internal/ledger"
	"github.com/maynagashev/tokenvault/internal/models"
	"github.com/maynagashev/tokenvault/internal/repository"
	"github.com/maynagashev/tokenvault/internal/storage"
)

// Максимум записей журнала в одной выписке.
const statementOperationsLimit = 10000

// VaultService определяет интерфейс машины состояний хранилища.
// Deposit и Withdraw возвращают обновленное значение счетчика внесенных средств.
type VaultService interface {
	InitializeVault(ctx context.Context, ownerID, assetID uuid.UUID) (*models.Vault, error)
	Deposit(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error)
	Withdraw(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error)
	GetVault(ctx context.Context, ownerID, assetID uuid.UUID) (*models.VaultView, error)
	ListOperations(ctx context.Context, ownerID, assetID uuid.UUID, limit, offset int) ([]models.Operation, error)
	ExportStatement(ctx context.Context, ownerID, assetID uuid.UUID) (string, error)
}

// Проверка соответствия интерфейсу.
var _ VaultService = (*vaultService)(nil)

// vaultService реализует машину состояний хранилища. Три эффекта операции
// (перевод актива, выпуск/погашение клеймов, обновление счетчика) выполняются
// в одной транзакции БД: либо применяются все, либо ни один.
type vaultService struct {
	db          *sqlx.DB
	vaultRepo   repository.VaultRepository
	assetRepo   repository.AssetRepository
	opRepo      repository.OperationRepository
	ledger      ledger.Ledger
	deriver     *authority.Deriver
	fileStorage storage.FileStorage
}

// NewVaultService создает новый экземпляр сервиса хранилищ.
func NewVaultService(
	db *sqlx.DB,
	vaultRepo repository.VaultRepository,
	assetRepo repository.AssetRepository,
	opRepo repository.OperationRepository,
	ldg ledger.Ledger,
	deriver *authority.Deriver,
	fileStorage storage.FileStorage,
) VaultService {
	return &vaultService{
		db:          db,
		vaultRepo:   vaultRepo,
		assetRepo:   assetRepo,
		opRepo:      opRepo,
		ledger:      ldg,
		deriver:     deriver,
		fileStorage: fileStorage,
	}
}

// InitializeVault создает хранилище для пары (владелец, актив): производную
// идентичность, custody-счет под ее контролем, эмиссию клеймов и саму запись
// хранилища с нулевым счетчиком. Повторная инициализация той же пары
// завершается ErrAlreadyInitialized без каких-либо эффектов.
func (s *vaultService) InitializeVault(ctx context.Context, ownerID, assetID uuid.UUID) (*models.Vault, error) {
	if _, err := s.assetRepo.GetAssetByID(ctx, s.db, assetID); err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			log.Printf("[VaultService] Инициализация отклонена: актив %s не зарегистрирован", assetID)
			return nil, ErrAssetNotFound
		}
		log.Printf("[VaultService] Ошибка проверки актива %s: %v", assetID, err)
		return nil, errors.New("внутренняя ошибка сервера при проверке актива")
	}

	// Ранняя проверка; гонку окончательно закрывает уникальный индекс в БД
	if _, err := s.vaultRepo.GetVault(ctx, s.db, ownerID, assetID); err == nil {
		log.Printf("[VaultService] Хранилище для владельца %s и актива %s уже существует", ownerID, assetID)
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, repository.ErrVaultNotFound) {
		log.Printf("[VaultService] Ошибка проверки существования хранилища: %v", err)
		return nil, errors.New("внутренняя ошибка сервера при проверке хранилища")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[VaultService] Ошибка открытия транзакции инициализации: %v", err)
		return nil, errors.New("внутренняя ошибка сервера при открытии транзакции")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	vaultID := uuid.New()
	authorityID, proof := s.deriver.Derive(vaultID)

	custody, err := s.ledger.CreateAccount(ctx, tx, assetID, nil, authorityID, models.AccountKindAsset)
	if err != nil {
		log.Printf("[VaultService] Ошибка создания custody-счета хранилища %s: %v", vaultID, err)
		return nil, errors.New("внутренняя ошибка сервера при создании custody-счета")
	}

	mint, err := s.ledger.CreateMint(ctx, tx, vaultID, authorityID)
	if err != nil {
		log.Printf("[VaultService] Ошибка создания эмиссии клеймов хранилища %s: %v", vaultID, err)
		return nil, errors.New("внутренняя ошибка сервера при создании эмиссии клеймов")
	}

	if _, err = s.ledger.CreateAccount(ctx, tx, mint.ID, &ownerID, ownerID, models.AccountKindClaim); err != nil {
		log.Printf("[VaultService] Ошибка создания счета клеймов владельца %s: %v", ownerID, err)
		return nil, errors.New("внутренняя ошибка сервера при создании счета клеймов")
	}

	vault := &models.Vault{
		ID:               vaultID,
		OwnerID:          ownerID,
		AssetID:          assetID,
		NetDeposit:       0,
		Initialized:      true,
		ReservedYield:    nil, // Начисление дохода не реализовано, поле не заполняется
		AuthorityID:      authorityID,
		AuthorityProof:   proof,
		CustodyAccountID: custody.ID,
		ClaimMintID:      mint.ID,
	}

	if err = s.vaultRepo.CreateVault(ctx, tx, vault); err != nil {
		if errors.Is(err, repository.ErrVaultExists) {
			return nil, ErrAlreadyInitialized
		}
		log.Printf("[VaultService] Ошибка создания записи хранилища %s: %v", vaultID, err)
		return nil, errors.New("внутренняя ошибка сервера при создании хранилища")
	}

	op := &models.Operation{VaultID: vaultID, Kind: models.OperationInitialize, Amount: 0, NetDepositAfter: 0}
	if err = s.opRepo.AppendOperation(ctx, tx, op); err != nil {
		return nil, errors.New("внутренняя ошибка сервера при записи журнала")
	}

	if err = tx.Commit(); err != nil {
		log.Printf("[VaultService] Ошибка фиксации транзакции инициализации: %v", err)
		return nil, errors.New("внутренняя ошибка сервера при фиксации транзакции")
	}
	committed = true

	log.Printf("[VaultService] Хранилище %s инициализировано (владелец %s, актив %s)", vaultID, ownerID, assetID)
	return vault, nil
}

// Deposit вносит amount базового актива в custody и выпускает владельцу
// столько же клеймов. Последовательность эффектов: перевод актива
// (авторизует владелец), выпуск клеймов (авторизует производная идентичность),
// обновление счетчика с проверяемым сложением.
func (s *vaultService) Deposit(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error) {
	if amount == 0 {
		log.Printf("[VaultService] Отклонено внесение нулевой суммы (владелец %s)", ownerID)
		return 0, ErrInvalidAmount
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[VaultService] Ошибка открытия транзакции внесения: %v", err)
		return 0, errors.New("внутренняя ошибка сервера при открытии транзакции")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	vault, err := s.lockVault(ctx, tx, ownerID, assetID)
	if err != nil {
		return 0, err
	}

	ownerAsset, err := s.ledger.FindAccount(ctx, tx, assetID, ownerID, models.AccountKindAsset)
	if err != nil {
		log.Printf("[VaultService] Счет актива владельца %s недоступен: %v", ownerID, err)
		return 0, mapLedgerError(err)
	}

	err = s.ledger.Transfer(ctx, tx, ownerAsset.ID, vault.CustodyAccountID, ledger.OwnerAuthorizer(ownerID), amount)
	if err != nil {
		log.Printf("[VaultService] Перевод при внесении отклонен (хранилище %s): %v", vault.ID, err)
		return 0, mapLedgerError(err)
	}

	ownerClaim, err := s.ledger.FindAccount(ctx, tx, vault.ClaimMintID, ownerID, models.AccountKindClaim)
	if err != nil {
		log.Printf("[VaultService] Счет клеймов владельца %s недоступен: %v", ownerID, err)
		return 0, errors.New("внутренняя ошибка сервера при поиске счета клеймов")
	}

	auth := ledger.AuthorityAuthorizer(vault.AuthorityID, vault.ID, vault.AuthorityProof)
	if err = s.ledger.Mint(ctx, tx, vault.ClaimMintID, ownerClaim.ID, auth, amount); err != nil {
		log.Printf("[VaultService] Выпуск клеймов при внесении отклонен (хранилище %s): %v", vault.ID, err)
		return 0, mapLedgerError(err)
	}

	newNetDeposit, err := checkedAdd(vault.NetDeposit, amount)
	if err != nil {
		log.Printf("[VaultService] Переполнение счетчика хранилища %s: %d + %d", vault.ID, vault.NetDeposit, amount)
		return 0, err
	}

	if err = s.commitCounter(ctx, tx, vault.ID, models.OperationDeposit, amount, newNetDeposit); err != nil {
		return 0, err
	}
	committed = true

	log.Printf("[VaultService] Внесено %d в хранилище %s, net_deposit = %d", amount, vault.ID, newNetDeposit)
	return newNetDeposit, nil
}

// Withdraw выводит amount базового актива из custody и погашает столько же
// клеймов владельца. Сумма сверяется с custody-балансом до любых движений
// в реестре: недопустимый запрос не порождает попытку перевода.
func (s *vaultService) Withdraw(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error) {
	if amount == 0 {
		log.Printf("[VaultService] Отклонен вывод нулевой суммы (владелец %s)", ownerID)
		return 0, ErrInvalidAmount
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[VaultService] Ошибка открытия транзакции вывода: %v", err)
		return 0, errors.New("внутренняя ошибка сервера при открытии транзакции")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	vault, err := s.lockVault(ctx, tx, ownerID, assetID)
	if err != nil {
		return 0, err
	}

	custody, err := s.ledger.GetAccount(ctx, tx, vault.CustodyAccountID)
	if err != nil {
		log.Printf("[VaultService] Custody-счет хранилища %s недоступен: %v", vault.ID, err)
		return 0, errors.New("внутренняя ошибка сервера при чтении custody-счета")
	}
	if amount > custody.Balance {
		log.Printf("[VaultService] Отклонен вывод %d из хранилища %s: custody-баланс %d", amount, vault.ID, custody.Balance)
		return 0, ErrInvalidAmount
	}

	ownerAsset, err := s.ledger.FindAccount(ctx, tx, assetID, ownerID, models.AccountKindAsset)
	if err != nil {
		log.Printf("[VaultService] Счет актива владельца %s недоступен: %v", ownerID, err)
		return 0, mapLedgerError(err)
	}

	auth := ledger.AuthorityAuthorizer(vault.AuthorityID, vault.ID, vault.AuthorityProof)
	if err = s.ledger.Transfer(ctx, tx, custody.ID, ownerAsset.ID, auth, amount); err != nil {
		log.Printf("[VaultService] Перевод при выводе отклонен (хранилище %s): %v", vault.ID, err)
		return 0, mapLedgerError(err)
	}

	ownerClaim, err := s.ledger.FindAccount(ctx, tx, vault.ClaimMintID, ownerID, models.AccountKindClaim)
	if err != nil {
		log.Printf("[VaultService] Счет клеймов владельца %s недоступен: %v", ownerID, err)
		return 0, errors.New("внутренняя ошибка сервера при поиске счета клеймов")
	}

	// Погашение авторизует владелец напрямую: он доказывает владение
	// уничтожаемыми клеймами, эмитент здесь не участвует
	if err = s.ledger.Burn(ctx, tx, vault.ClaimMintID, ownerClaim.ID, ledger.OwnerAuthorizer(ownerID), amount); err != nil {
		log.Printf("[VaultService] Погашение клеймов при выводе отклонено (хранилище %s): %v", vault.ID, err)
		return 0, mapLedgerError(err)
	}

	newNetDeposit, err := checkedSub(vault.NetDeposit, amount)
	if err != nil {
		log.Printf("[VaultService] Уход счетчика хранилища %s в минус: %d - %d", vault.ID, vault.NetDeposit, amount)
		return 0, err
	}

	if err = s.commitCounter(ctx, tx, vault.ID, models.OperationWithdraw, amount, newNetDeposit); err != nil {
		return 0, err
	}
	committed = true

	log.Printf("[VaultService] Выведено %d из хранилища %s, net_deposit = %d", amount, vault.ID, newNetDeposit)
	return newNetDeposit, nil
}

// GetVault возвращает запись хранилища вместе с текущими балансами реестра.
func (s *vaultService) GetVault(ctx context.Context, ownerID, assetID uuid.UUID) (*models.VaultView, error) {
	vault, err := s.vaultRepo.GetVault(ctx, s.db, ownerID, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrVaultNotFound) {
			return nil, ErrNotInitialized
		}
		log.Printf("[VaultService] Ошибка получения хранилища (владелец %s): %v", ownerID, err)
		return nil, errors.New("внутренняя ошибка сервера при получении хранилища")
	}

	custody, err := s.ledger.GetAccount(ctx, s.db, vault.CustodyAccountID)
	if err != nil {
		log.Printf("[VaultService] Custody-счет хранилища %s недоступен: %v", vault.ID, err)
		return nil, errors.New("внутренняя ошибка сервера при чтении custody-счета")
	}

	mint, err := s.ledger.GetMint(ctx, s.db, vault.ClaimMintID)
	if err != nil {
		log.Printf("[VaultService] Эмиссия клеймов хранилища %s недоступна: %v", vault.ID, err)
		return nil, errors.New("внутренняя ошибка сервера при чтении эмиссии клеймов")
	}

	return &models.VaultView{
		Vault:          *vault,
		CustodyBalance: custody.Balance,
		ClaimSupply:    mint.Supply,
	}, nil
}

// ListOperations возвращает записи журнала хранилища от новых к старым.
func (s *vaultService) ListOperations(
	ctx context.Context,
	ownerID, assetID uuid.UUID,
	limit, offset int,
) ([]models.Operation, error) {
	vault, err := s.vaultRepo.GetVault(ctx, s.db, ownerID, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrVaultNotFound) {
			return nil, ErrNotInitialized
		}
		log.Printf("[VaultService] Ошибка получения хранилища (владелец %s): %v", ownerID, err)
		return nil, errors.New("внутренняя ошибка сервера при получении хранилища")
	}

	operations, err := s.opRepo.ListByVaultID(ctx, s.db, vault.ID, limit, offset)
	if err != nil {
		log.Printf("[VaultService] Ошибка чтения журнала хранилища %s: %v", vault.ID, err)
		return nil, errors.New("внутренняя ошибка сервера при чтении журнала")
	}

	return operations, nil
}

// ExportStatement формирует JSON-выписку по журналу хранилища и архивирует
// ее в объектное хранилище. Возвращает ключ сохраненного объекта.
func (s *vaultService) ExportStatement(ctx context.Context, ownerID, assetID uuid.UUID) (string, error) {
	vault, err := s.vaultRepo.GetVault(ctx, s.db, ownerID, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrVaultNotFound) {
			return "", ErrNotInitialized
		}
		log.Printf("[VaultService] Ошибка получения хранилища (владелец %s): %v", ownerID, err)
		return "", errors.New("внутренняя ошибка сервера при получении хранилища")
	}

	operations, err := s.opRepo.ListByVaultID(ctx, s.db, vault.ID, statementOperationsLimit, 0)
	if err != nil {
		log.Printf("[VaultService] Ошибка чтения журнала хранилища %s: %v", vault.ID, err)
		return "", errors.New("внутренняя ошибка сервера при чтении журнала")
	}

	statement := models.Statement{
		VaultID:     vault.ID,
		OwnerID:     vault.OwnerID,
		AssetID:     vault.AssetID,
		NetDeposit:  vault.NetDeposit,
		Operations:  operations,
		GeneratedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(statement)
	if err != nil {
		log.Printf("[VaultService] Ошибка сериализации выписки хранилища %s: %v", vault.ID, err)
		return "", errors.New("внутренняя ошибка сервера при формировании выписки")
	}

	objectKey := fmt.Sprintf("statements/vault_%s/%d.json", vault.ID, statement.GeneratedAt.UnixNano())
	err = s.fileStorage.UploadFile(ctx, objectKey, bytes.NewReader(data), int64(len(data)), "application/json")
	if err != nil {
		log.Printf("[VaultService] Ошибка архивирования выписки '%s': %v", objectKey, err)
		return "", errors.New("внутренняя ошибка сервера при архивировании выписки")
	}

	log.Printf("[VaultService] Выписка хранилища %s сохранена как '%s'", vault.ID, objectKey)
	return objectKey, nil
}

// lockVault находит хранилище пары (владелец, актив) и удерживает блокировку
// его строки до конца транзакции.
func (s *vaultService) lockVault(
	ctx context.Context,
	tx *sqlx.Tx,
	ownerID, assetID uuid.UUID,
) (*models.Vault, error) {
	vault, err := s.vaultRepo.GetVaultForUpdate(ctx, tx, ownerID, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrVaultNotFound) {
			log.Printf("[VaultService] Хранилище для владельца %s и актива %s не инициализировано", ownerID, assetID)
			return nil, ErrNotInitialized
		}
		log.Printf("[VaultService] Ошибка блокировки хранилища (владелец %s): %v", ownerID, err)
		return nil, errors.New("внутренняя ошибка сервера при получении хранилища")
	}
	if !vault.Initialized {
		return nil, ErrNotInitialized
	}
	return vault, nil
}

// commitCounter записывает новое значение счетчика, журналирует операцию
// и фиксирует транзакцию.
func (s *vaultService) commitCounter(
	ctx context.Context,
	tx *sqlx.Tx,
	vaultID uuid.UUID,
	kind string,
	amount, newNetDeposit uint64,
) error {
	if err := s.vaultRepo.UpdateNetDeposit(ctx, tx, vaultID, newNetDeposit); err != nil {
		log.Printf("[VaultService] Ошибка обновления счетчика хранилища %s: %v", vaultID, err)
		return errors.New("внутренняя ошибка сервера при обновлении счетчика")
	}

	op := &models.Operation{VaultID: vaultID, Kind: kind, Amount: amount, NetDepositAfter: newNetDeposit}
	if err := s.opRepo.AppendOperation(ctx, tx, op); err != nil {
		return errors.New("внутренняя ошибка сервера при записи журнала")
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[VaultService] Ошибка фиксации транзакции операции '%s' хранилища %s: %v", kind, vaultID, err)
		return errors.New("внутренняя ошибка сервера при фиксации транзакции")
	}
	return nil
}

// checkedAdd складывает значения счетчика с контролем переполнения.
// Переполнение не заворачивается, операция отклоняется.
func checkedAdd(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// checkedSub вычитает значения счетчика с контролем ухода в минус.
func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticUnderflow
	}
	return a - b, nil
}
