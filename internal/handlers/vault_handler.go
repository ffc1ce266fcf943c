package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maynagashev/tokenvault/internal/middleware"
	"github.com/maynagashev/tokenvault/internal/models"
	"github.com/maynagashev/tokenvault/internal/services"
)

// Параметры постраничного чтения журнала по умолчанию.
const (
	defaultOperationsLimit = 100
	maxOperationsLimit     = 1000
)

// VaultHandler обрабатывает HTTP-запросы, связанные с хранилищами.
type VaultHandler struct {
	vaultService services.VaultService
}

// NewVaultHandler создает новый экземпляр VaultHandler.
func NewVaultHandler(vs services.VaultService) *VaultHandler {
	return &VaultHandler{vaultService: vs}
}

// Initialize обрабатывает POST запрос на создание хранилища.
func (h *VaultHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		log.Printf("[VaultHandler:Initialize] Не удалось получить ownerID из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	var req models.CreateVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssetID == uuid.Nil {
		log.Printf("[VaultHandler:Initialize] Неверное тело запроса от владельца %s", ownerID)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	log.Printf("[VaultHandler:Initialize] Создание хранилища для владельца %s, актив %s", ownerID, req.AssetID)

	vault, err := h.vaultService.InitializeVault(r.Context(), ownerID, req.AssetID)
	if err != nil {
		writeServiceError(w, err, "VaultHandler:Initialize")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(vault); err != nil {
		log.Printf("[VaultHandler:Initialize] Ошибка кодирования ответа: %v", err)
	}
}

// Get обрабатывает GET запрос на чтение хранилища с балансами реестра.
func (h *VaultHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, assetID, ok := h.requestIdentity(w, r, "VaultHandler:Get")
	if !ok {
		return
	}

	view, err := h.vaultService.GetVault(r.Context(), ownerID, assetID)
	if err != nil {
		writeServiceError(w, err, "VaultHandler:Get")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err = json.NewEncoder(w).Encode(view); err != nil {
		log.Printf("[VaultHandler:Get] Ошибка кодирования ответа: %v", err)
	}
}

// Deposit обрабатывает POST запрос на внесение средств.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountOperation(w, r, "VaultHandler:Deposit", h.vaultService.Deposit)
}

// Withdraw обрабатывает POST запрос на вывод средств.
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOperation(w, r, "VaultHandler:Withdraw", h.vaultService.Withdraw)
}

// ListOperations обрабатывает GET запрос на чтение журнала операций.
func (h *VaultHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ownerID, assetID, ok := h.requestIdentity(w, r, "VaultHandler:ListOperations")
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultOperationsLimit)
	if limit <= 0 || limit > maxOperationsLimit {
		limit = defaultOperationsLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	operations, err := h.vaultService.ListOperations(r.Context(), ownerID, assetID, limit, offset)
	if err != nil {
		writeServiceError(w, err, "VaultHandler:ListOperations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err = json.NewEncoder(w).Encode(operations); err != nil {
		log.Printf("[VaultHandler:ListOperations] Ошибка кодирования ответа: %v", err)
	}
}

// ExportStatement обрабатывает POST запрос на выгрузку выписки в архив.
func (h *VaultHandler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	ownerID, assetID, ok := h.requestIdentity(w, r, "VaultHandler:ExportStatement")
	if !ok {
		return
	}

	objectKey, err := h.vaultService.ExportStatement(r.Context(), ownerID, assetID)
	if err != nil {
		writeServiceError(w, err, "VaultHandler:ExportStatement")
		return
	}

	resp := models.StatementResponse{ObjectKey: objectKey}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[VaultHandler:ExportStatement] Ошибка кодирования ответа: %v", err)
	}
}

// amountOperation разбирает общий вид запросов deposit/withdraw и отвечает
// обновленным значением счетчика.
func (h *VaultHandler) amountOperation(
	w http.ResponseWriter,
	r *http.Request,
	tag string,
	operation func(ctx context.Context, ownerID, assetID uuid.UUID, amount uint64) (uint64, error),
) {
	ownerID, assetID, ok := h.requestIdentity(w, r, tag)
	if !ok {
		return
	}

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[%s] Неверное тело запроса от владельца %s", tag, ownerID)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	netDeposit, err := operation(r.Context(), ownerID, assetID, req.Amount)
	if err != nil {
		writeServiceError(w, err, tag)
		return
	}

	resp := models.NetDepositResponse{NetDeposit: netDeposit}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[%s] Ошибка кодирования ответа: %v", tag, err)
	}
}

// requestIdentity извлекает владельца из контекста и актив из пути запроса.
func (h *VaultHandler) requestIdentity(
	w http.ResponseWriter,
	r *http.Request,
	tag string,
) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		log.Printf("[%s] Не удалось получить ownerID из контекста", tag)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return uuid.Nil, uuid.Nil, false
	}

	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		log.Printf("[%s] Невалидный идентификатор актива в пути: %v", tag, err)
		http.Error(w, "Невалидный идентификатор актива", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}

	return ownerID, assetID, true
}

// queryInt читает целочисленный query-параметр с значением по умолчанию.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// writeServiceError переводит ошибки сервисного слоя в HTTP-статусы.
// Классы ошибок: входные данные 400, авторизация 403, жизненный цикл 404/409,
// ресурсные и арифметические отказы 422, прочее 500.
func writeServiceError(w http.ResponseWriter, err error, tag string) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		http.Error(w, "Недопустимая сумма операции", http.StatusBadRequest)
	case errors.Is(err, services.ErrUnauthorized):
		http.Error(w, "Операция не авторизована", http.StatusForbidden)
	case errors.Is(err, services.ErrNotInitialized):
		http.Error(w, "Хранилище не инициализировано", http.StatusNotFound)
	case errors.Is(err, services.ErrAssetNotFound):
		http.Error(w, "Актив не найден", http.StatusNotFound)
	case errors.Is(err, services.ErrAlreadyInitialized):
		http.Error(w, "Хранилище уже инициализировано", http.StatusConflict)
	case errors.Is(err, services.ErrAssetExists):
		http.Error(w, "Актив уже зарегистрирован", http.StatusConflict)
	case errors.Is(err, services.ErrTransferRejected):
		http.Error(w, "Перевод средств отклонен", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrInsufficientClaim):
		http.Error(w, "Недостаточно клеймов", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrArithmeticOverflow), errors.Is(err, services.ErrArithmeticUnderflow):
		http.Error(w, "Операция нарушает учет хранилища", http.StatusUnprocessableEntity)
	default:
		log.Printf("[%s] Внутренняя ошибка сервиса: %v", tag, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}
