package ledger_test

import (
	"context"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/tokenvault/internal/authority"
	"github.com/maynagashev/tokenvault/internal/ledger"
	"github.com/maynagashev/tokenvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Вспомогательная функция для создания реестра поверх мока БД.
func setupLedgerMock(t *testing.T) (ledger.Ledger, *authority.Deriver, *sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	deriver := authority.NewDeriver(uuid.New())
	return ledger.NewPostgresLedger(deriver), deriver, sqlxDB, mock
}

func accountRows(a *models.LedgerAccount) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "asset_id", "owner_id", "controller", "kind", "balance", "created_at"})
	var ownerID interface{}
	if a.OwnerID != nil {
		ownerID = a.OwnerID.String()
	}
	// Колонки NUMERIC драйвер возвращает строками
	return rows.AddRow(a.ID.String(), a.AssetID.String(), ownerID, a.Controller.String(), a.Kind, uintStr(a.Balance), time.Now())
}

func mintRows(m *models.TokenMint) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "vault_id", "authority", "supply", "created_at"}).
		AddRow(m.ID.String(), m.VaultID.String(), m.Authority.String(), uintStr(m.Supply), time.Now())
}

func uintStr(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func expectAccountLock(mock sqlmock.Sqlmock, a *models.LedgerAccount) {
	mock.ExpectQuery("SELECT (.+) FROM ledger_accounts WHERE id=(.+) FOR UPDATE").
		WithArgs(a.ID).
		WillReturnRows(accountRows(a))
}

func expectMintLock(mock sqlmock.Sqlmock, m *models.TokenMint) {
	mock.ExpectQuery("SELECT (.+) FROM token_mints WHERE id=(.+) FOR UPDATE").
		WithArgs(m.ID).
		WillReturnRows(mintRows(m))
}

func TestTransfer(t *testing.T) {
	assetID := uuid.New()
	ownerID := uuid.New()
	otherID := uuid.New()

	ownerAccount := func(balance uint64) *models.LedgerAccount {
		return &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    assetID,
			OwnerID:    &ownerID,
			Controller: ownerID,
			Kind:       models.AccountKindAsset,
			Balance:    balance,
		}
	}

	t.Run("Успешный перевод по авторизации владельца", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		from := ownerAccount(500)
		to := &models.LedgerAccount{
			ID:      uuid.New(),
			AssetID: assetID,
			Kind:    models.AccountKindAsset,
			Balance: 100,
		}

		expectAccountLock(mock, from)
		expectAccountLock(mock, to)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("300", from.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("300", to.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ldg.Transfer(context.Background(), sqlxDB, from.ID, to.ID, ledger.OwnerAuthorizer(ownerID), 200)

		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Авторизатор не совпадает с контролером", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		from := ownerAccount(500)

		expectAccountLock(mock, from)

		err := ldg.Transfer(context.Background(), sqlxDB, from.ID, uuid.New(), ledger.OwnerAuthorizer(otherID), 200)

		require.ErrorIs(t, err, ledger.ErrTransferRejected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Недостаточно средств", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		from := ownerAccount(100)

		expectAccountLock(mock, from)

		err := ldg.Transfer(context.Background(), sqlxDB, from.ID, uuid.New(), ledger.OwnerAuthorizer(ownerID), 200)

		require.ErrorIs(t, err, ledger.ErrTransferRejected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Перевод всего диапазона uint64", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		from := ownerAccount(math.MaxUint64)
		to := &models.LedgerAccount{
			ID:      uuid.New(),
			AssetID: assetID,
			Kind:    models.AccountKindAsset,
			Balance: 0,
		}

		expectAccountLock(mock, from)
		expectAccountLock(mock, to)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("0", from.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("18446744073709551615", to.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ldg.Transfer(context.Background(), sqlxDB, from.ID, to.ID, ledger.OwnerAuthorizer(ownerID), math.MaxUint64)

		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Переполнение счета-получателя отклоняется", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		from := ownerAccount(math.MaxUint64)
		to := &models.LedgerAccount{
			ID:      uuid.New(),
			AssetID: assetID,
			Kind:    models.AccountKindAsset,
			Balance: 1,
		}

		// Оба счета блокируются, но балансы не меняются
		expectAccountLock(mock, from)
		expectAccountLock(mock, to)

		err := ldg.Transfer(context.Background(), sqlxDB, from.ID, to.ID, ledger.OwnerAuthorizer(ownerID), math.MaxUint64)

		require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Custody-счет без доказательства деривации", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		vaultID := uuid.New()
		authorityID, _ := deriver.Derive(vaultID)
		custody := &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    assetID,
			OwnerID:    nil,
			Controller: authorityID,
			Kind:       models.AccountKindAsset,
			Balance:    500,
		}

		expectAccountLock(mock, custody)

		// Прямая авторизация от имени производной идентичности недостаточна
		err := ldg.Transfer(context.Background(), sqlxDB, custody.ID, uuid.New(), ledger.OwnerAuthorizer(authorityID), 200)

		require.ErrorIs(t, err, ledger.ErrTransferRejected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Custody-счет с производной авторизацией", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		vaultID := uuid.New()
		authorityID, proof := deriver.Derive(vaultID)
		custody := &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    assetID,
			OwnerID:    nil,
			Controller: authorityID,
			Kind:       models.AccountKindAsset,
			Balance:    500,
		}
		to := ownerAccount(0)

		expectAccountLock(mock, custody)
		expectAccountLock(mock, to)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("300", custody.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("200", to.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		auth := ledger.AuthorityAuthorizer(authorityID, vaultID, proof)
		err := ldg.Transfer(context.Background(), sqlxDB, custody.ID, to.ID, auth, 200)

		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Счета разных активов", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		from := ownerAccount(500)
		to := &models.LedgerAccount{
			ID:      uuid.New(),
			AssetID: uuid.New(),
			Kind:    models.AccountKindAsset,
		}

		expectAccountLock(mock, from)
		expectAccountLock(mock, to)

		err := ldg.Transfer(context.Background(), sqlxDB, from.ID, to.ID, ledger.OwnerAuthorizer(ownerID), 200)

		require.ErrorIs(t, err, ledger.ErrTransferRejected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Счет не найден", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		fromID := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM ledger_accounts WHERE id=(.+) FOR UPDATE").
			WithArgs(fromID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		err := ldg.Transfer(context.Background(), sqlxDB, fromID, uuid.New(), ledger.OwnerAuthorizer(ownerID), 200)

		require.ErrorIs(t, err, ledger.ErrAccountNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMint(t *testing.T) {
	t.Run("Успешный выпуск эмитентом", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		vaultID := uuid.New()
		authorityID, proof := deriver.Derive(vaultID)
		mint := &models.TokenMint{ID: uuid.New(), VaultID: vaultID, Authority: authorityID, Supply: 100}
		claimOwner := uuid.New()
		to := &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    mint.ID,
			OwnerID:    &claimOwner,
			Controller: claimOwner,
			Kind:       models.AccountKindClaim,
			Balance:    100,
		}

		expectMintLock(mock, mint)
		expectAccountLock(mock, to)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("150", to.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE token_mints SET supply=(.+)").
			WithArgs("150", mint.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		auth := ledger.AuthorityAuthorizer(authorityID, vaultID, proof)
		err := ldg.Mint(context.Background(), sqlxDB, mint.ID, to.ID, auth, 50)

		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Переполнение объема выпуска отклоняется", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		vaultID := uuid.New()
		authorityID, proof := deriver.Derive(vaultID)
		mint := &models.TokenMint{ID: uuid.New(), VaultID: vaultID, Authority: authorityID, Supply: math.MaxUint64 - 10}
		claimOwner := uuid.New()
		to := &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    mint.ID,
			OwnerID:    &claimOwner,
			Controller: claimOwner,
			Kind:       models.AccountKindClaim,
			Balance:    0,
		}

		expectMintLock(mock, mint)
		expectAccountLock(mock, to)

		auth := ledger.AuthorityAuthorizer(authorityID, vaultID, proof)
		err := ldg.Mint(context.Background(), sqlxDB, mint.ID, to.ID, auth, 50)

		require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Выпуск без производной авторизации отклоняется", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		vaultID := uuid.New()
		authorityID, _ := deriver.Derive(vaultID)
		mint := &models.TokenMint{ID: uuid.New(), VaultID: vaultID, Authority: authorityID}

		expectMintLock(mock, mint)

		err := ldg.Mint(context.Background(), sqlxDB, mint.ID, uuid.New(), ledger.OwnerAuthorizer(authorityID), 50)

		require.ErrorIs(t, err, ledger.ErrUnauthorized)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Выпуск с чужим доказательством отклоняется", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		vaultID := uuid.New()
		authorityID, _ := deriver.Derive(vaultID)
		mint := &models.TokenMint{ID: uuid.New(), VaultID: vaultID, Authority: authorityID}

		// Доказательство от другой программы не проходит проверку
		foreign := authority.NewDeriver(uuid.New())
		_, foreignProof := foreign.Derive(vaultID)

		expectMintLock(mock, mint)

		auth := ledger.AuthorityAuthorizer(authorityID, vaultID, foreignProof)
		err := ldg.Mint(context.Background(), sqlxDB, mint.ID, uuid.New(), auth, 50)

		require.ErrorIs(t, err, ledger.ErrUnauthorized)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBurn(t *testing.T) {
	setupClaim := func(deriver *authority.Deriver, balance uint64) (*models.TokenMint, *models.LedgerAccount, uuid.UUID) {
		vaultID := uuid.New()
		authorityID, _ := deriver.Derive(vaultID)
		mint := &models.TokenMint{ID: uuid.New(), VaultID: vaultID, Authority: authorityID, Supply: balance}
		claimOwner := uuid.New()
		from := &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    mint.ID,
			OwnerID:    &claimOwner,
			Controller: claimOwner,
			Kind:       models.AccountKindClaim,
			Balance:    balance,
		}
		return mint, from, claimOwner
	}

	t.Run("Успешное погашение владельцем", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		mint, from, claimOwner := setupClaim(deriver, 150)

		expectMintLock(mock, mint)
		expectAccountLock(mock, from)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("0", from.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE token_mints SET supply=(.+)").
			WithArgs("0", mint.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ldg.Burn(context.Background(), sqlxDB, mint.ID, from.ID, ledger.OwnerAuthorizer(claimOwner), 150)

		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Недостаточно клеймов", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		mint, from, claimOwner := setupClaim(deriver, 100)

		expectMintLock(mock, mint)
		expectAccountLock(mock, from)

		err := ldg.Burn(context.Background(), sqlxDB, mint.ID, from.ID, ledger.OwnerAuthorizer(claimOwner), 200)

		require.ErrorIs(t, err, ledger.ErrInsufficientClaim)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Погашение производной идентичностью отклоняется", func(t *testing.T) {
		ldg, deriver, sqlxDB, mock := setupLedgerMock(t)
		mint, from, _ := setupClaim(deriver, 100)

		// Эмитент выпускает клеймы, но не погашает их
		authorityID, proof := deriver.Derive(mint.VaultID)

		expectMintLock(mock, mint)
		expectAccountLock(mock, from)

		auth := ledger.AuthorityAuthorizer(authorityID, mint.VaultID, proof)
		err := ldg.Burn(context.Background(), sqlxDB, mint.ID, from.ID, auth, 50)

		require.ErrorIs(t, err, ledger.ErrUnauthorized)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateAccount(t *testing.T) {
	ldg, _, sqlxDB, mock := setupLedgerMock(t)
	assetID := uuid.New()
	ownerID := uuid.New()

	mock.ExpectExec("INSERT INTO ledger_accounts").
		WithArgs(sqlmock.AnyArg(), assetID, &ownerID, ownerID, models.AccountKindAsset).
		WillReturnResult(sqlmock.NewResult(0, 1))

	account, err := ldg.CreateAccount(context.Background(), sqlxDB, assetID, &ownerID, ownerID, models.AccountKindAsset)

	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, assetID, account.AssetID)
	assert.Equal(t, uint64(0), account.Balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditAccount(t *testing.T) {
	ownerID := uuid.New()
	testAccount := func(balance uint64) *models.LedgerAccount {
		return &models.LedgerAccount{
			ID:         uuid.New(),
			AssetID:    uuid.New(),
			OwnerID:    &ownerID,
			Controller: ownerID,
			Kind:       models.AccountKindAsset,
			Balance:    balance,
		}
	}

	t.Run("Успешное начисление", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		account := testAccount(40)

		expectAccountLock(mock, account)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("100", account.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		balance, err := ldg.CreditAccount(context.Background(), sqlxDB, account.ID, 60)

		require.NoError(t, err)
		assert.Equal(t, uint64(100), balance)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Начисление суммы больше MaxInt64", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		account := testAccount(100)
		amount := uint64(math.MaxInt64) + 1

		expectAccountLock(mock, account)
		mock.ExpectExec("UPDATE ledger_accounts SET balance=(.+)").
			WithArgs("9223372036854775908", account.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		balance, err := ldg.CreditAccount(context.Background(), sqlxDB, account.ID, amount)

		require.NoError(t, err)
		assert.Equal(t, amount+100, balance)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Переполнение баланса отклоняется", func(t *testing.T) {
		ldg, _, sqlxDB, mock := setupLedgerMock(t)
		account := testAccount(100)

		// Блокировка строки есть, обновления баланса быть не должно
		expectAccountLock(mock, account)

		balance, err := ldg.CreditAccount(context.Background(), sqlxDB, account.ID, math.MaxUint64-50)

		require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
		assert.Equal(t, uint64(0), balance)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
