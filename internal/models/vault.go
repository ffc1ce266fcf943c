package models

import (
	"time"

	"github.com/google/uuid"
)

// Vault представляет учетную запись кастодиального хранилища для пары (владелец, актив).
// NetDeposit ведется с проверяемой арифметикой: операции, которые привели бы
// к переполнению или уходу в минус, отклоняются целиком.
type Vault struct {
	ID               uuid.UUID `db:"id" json:"id"`
	OwnerID          uuid.UUID `db:"owner_id" json:"owner_id"`
	AssetID          uuid.UUID `db:"asset_id" json:"asset_id"`
	NetDeposit       uint64    `db:"net_deposit" json:"net_deposit"` // Внесено минус выведено
	Initialized      bool      `db:"initialized" json:"initialized"`
	ReservedYield    *uint64   `db:"reserved_yield" json:"reserved_yield,omitempty"` // Зарезервировано под начисление дохода, логика не реализована
	AuthorityID      uuid.UUID `db:"authority_id" json:"authority_id"`
	AuthorityProof   string    `db:"authority_proof" json:"-"` // Материал деривации, проверяется при каждом использовании
	CustodyAccountID uuid.UUID `db:"custody_account_id" json:"custody_account_id"`
	ClaimMintID      uuid.UUID `db:"claim_mint_id" json:"claim_mint_id"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Коды видов операций в журнале.
const (
	OperationInitialize = "initialize"
	OperationDeposit    = "deposit"
	OperationWithdraw   = "withdraw"
)

// Operation представляет одну запись журнала операций хранилища.
// Запись добавляется в той же транзакции, что и сама операция.
type Operation struct {
	ID              int64     `db:"id" json:"id"`
	VaultID         uuid.UUID `db:"vault_id" json:"vault_id"`
	Kind            string    `db:"kind" json:"kind"`
	Amount          uint64    `db:"amount" json:"amount"`
	NetDepositAfter uint64    `db:"net_deposit_after" json:"net_deposit_after"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// VaultView представляет хранилище вместе с текущими балансами внешнего реестра.
// Отдается клиенту для сверки: custody-баланс и выпущенные клеймы должны
// совпадать с NetDeposit.
type VaultView struct {
	Vault          Vault  `json:"vault"`
	CustodyBalance uint64 `json:"custody_balance"`
	ClaimSupply    uint64 `json:"claim_supply"`
}

// Statement представляет выгрузку журнала операций хранилища,
// архивируемую в объектное хранилище.
type Statement struct {
	VaultID     uuid.UUID   `json:"vault_id"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	AssetID     uuid.UUID   `json:"asset_id"`
	NetDeposit  uint64      `json:"net_deposit"`
	Operations  []Operation `json:"operations"`
	GeneratedAt time.Time   `json:"generated_at"`
}
