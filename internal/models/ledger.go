package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset представляет тип базового актива, принимаемого хранилищами.
type Asset struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Decimals  int32     `db:"decimals" json:"decimals"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Виды счетов внешнего реестра.
const (
	AccountKindAsset = "asset" // Счет базового актива
	AccountKindClaim = "claim" // Счет токенов-клеймов
)

// LedgerAccount представляет счет внешнего реестра с балансом взаимозаменяемых
// единиц. Для счетов вида asset поле AssetID содержит идентификатор актива,
// для счетов вида claim оно содержит идентификатор эмиссии клеймов (TokenMint).
// Controller хранит идентичность, которая вправе авторизовать списания со счета.
type LedgerAccount struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	AssetID    uuid.UUID  `db:"asset_id" json:"asset_id"`
	OwnerID    *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"` // NULL для custody-счетов
	Controller uuid.UUID  `db:"controller" json:"controller"`
	Kind       string     `db:"kind" json:"kind"`
	Balance    uint64     `db:"balance" json:"balance"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// TokenMint представляет эмиссию токенов-клеймов одного хранилища.
// Authority хранит единственную идентичность, которая вправе выпускать новые клеймы.
// Supply должен совпадать с NetDeposit хранилища при политике выпуска 1:1.
type TokenMint struct {
	ID        uuid.UUID `db:"id" json:"id"`
	VaultID   uuid.UUID `db:"vault_id" json:"vault_id"`
	Authority uuid.UUID `db:"authority" json:"authority"`
	Supply    uint64    `db:"supply" json:"supply"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
