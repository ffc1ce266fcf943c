package models

import "github.com/google/uuid"

// CreateVaultRequest представляет тело запроса на создание хранилища.
type CreateVaultRequest struct {
	AssetID uuid.UUID `json:"asset_id"`
}

// AmountRequest представляет тело запроса на внесение или вывод средств.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// NetDepositResponse представляет тело ответа операций deposit/withdraw.
type NetDepositResponse struct {
	NetDeposit uint64 `json:"net_deposit"`
}

// CreateAssetRequest представляет тело запроса на регистрацию актива.
type CreateAssetRequest struct {
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// BalanceResponse представляет тело ответа при пополнении счета актива.
type BalanceResponse struct {
	Balance uint64 `json:"balance"`
}

// StatementResponse представляет тело ответа при выгрузке выписки.
type StatementResponse struct {
	ObjectKey string `json:"object_key"`
}
