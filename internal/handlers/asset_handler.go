package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maynagashev/tokenvault/internal/middleware"
	"github.com/maynagashev/tokenvault/internal/models"
	"github.com/maynagashev/tokenvault/internal/services"
)

// AssetHandler обрабатывает HTTP-запросы, связанные с активами и счетами.
type AssetHandler struct {
	assetService services.AssetService
}

// NewAssetHandler создает новый экземпляр AssetHandler.
func NewAssetHandler(as services.AssetService) *AssetHandler {
	return &AssetHandler{assetService: as}
}

// Create обрабатывает POST запрос на регистрацию актива.
func (h *AssetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" || req.Decimals < 0 {
		log.Printf("[AssetHandler:Create] Неверное тело запроса")
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	asset, err := h.assetService.CreateAsset(r.Context(), req.Symbol, req.Decimals)
	if err != nil {
		writeServiceError(w, err, "AssetHandler:Create")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(asset); err != nil {
		log.Printf("[AssetHandler:Create] Ошибка кодирования ответа: %v", err)
	}
}

// Fund обрабатывает POST запрос на пополнение счета актива владельца.
func (h *AssetHandler) Fund(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		log.Printf("[AssetHandler:Fund] Не удалось получить ownerID из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		log.Printf("[AssetHandler:Fund] Невалидный идентификатор актива в пути: %v", err)
		http.Error(w, "Невалидный идентификатор актива", http.StatusBadRequest)
		return
	}

	var req models.AmountRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[AssetHandler:Fund] Неверное тело запроса от владельца %s", ownerID)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	balance, err := h.assetService.FundAccount(r.Context(), ownerID, assetID, req.Amount)
	if err != nil {
		writeServiceError(w, err, "AssetHandler:Fund")
		return
	}

	resp := models.BalanceResponse{Balance: balance}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[AssetHandler:Fund] Ошибка кодирования ответа: %v", err)
	}
}
