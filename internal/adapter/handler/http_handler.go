package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/port"
)

type HTTPHandler struct {
	engine  *service.LedgerEngine
	queries *service.QueryService
	cache   port.CacheRepository
	log     *zap.Logger
}

func NewHTTPHandler(engine *service.LedgerEngine, queries *service.QueryService, cache port.CacheRepository, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{engine: engine, queries: queries, cache: cache, log: log}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.healthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/stock", h.addStock)
		r.Post("/reservations", h.reserveStock)
		r.Post("/reservations/{id}/cancel", h.cancelReservation)
		r.Post("/reservations/{id}/fulfill", h.fulfillReservation)
		r.Post("/adjustments", h.adjustStock)

		r.Get("/availability", h.stockAvailability)
		r.Get("/reservations/{id}", h.reservationStatus)
		r.Get("/batches/{id}", h.batchInfo)
		r.Get("/locations/{location}/inventory", h.locationInventory)
		r.Get("/adjustments", h.adjustmentHistory)
		r.Get("/stock/low", h.lowStock)
	})
	return r
}

type addStockRequest struct {
	RequestID      string            `json:"request_id"`
	ProductID      string            `json:"product_id"`
	Location       string            `json:"location"`
	Quantity       int               `json:"quantity"`
	BatchID        string            `json:"batch_id"`
	ExpirationDate *time.Time        `json:"expiration_date"`
	ProductionCode string            `json:"production_code"`
	Metadata       map[string]string `json:"metadata"`
}

type stockResponse struct {
	ProductID         string `json:"product_id"`
	Location          string `json:"location"`
	TotalQuantity     int    `json:"total_quantity"`
	ReservedQuantity  int    `json:"reserved_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
}

func (h *HTTPHandler) addStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Location == "" {
		writeMessage(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if !h.claimRequest(w, r, "add:"+req.RequestID, req.RequestID != "") {
		return
	}

	unit, err := h.engine.AddStock(r.Context(), domain.AddStockCommand{
		ProductID:      req.ProductID,
		Location:       req.Location,
		Quantity:       req.Quantity,
		BatchID:        req.BatchID,
		ExpirationDate: req.ExpirationDate,
		ProductionCode: req.ProductionCode,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, stockResponse{
		ProductID:         unit.ProductID,
		Location:          unit.Location,
		TotalQuantity:     unit.TotalQuantity,
		ReservedQuantity:  unit.ReservedQuantity,
		AvailableQuantity: unit.AvailableQuantity(),
	})
}

type reserveStockRequest struct {
	RequestID      string `json:"request_id"`
	ProductID      string `json:"product_id"`
	Location       string `json:"location"`
	Quantity       int    `json:"quantity"`
	OrderReference string `json:"order_reference"`
	RequestedBy    string `json:"requested_by"`
	TTLSeconds     int    `json:"ttl_seconds"`
}

func (h *HTTPHandler) reserveStock(w http.ResponseWriter, r *http.Request) {
	var req reserveStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Location == "" || req.OrderReference == "" {
		writeMessage(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if !h.claimRequest(w, r, "reserve:"+req.RequestID, req.RequestID != "") {
		return
	}

	reservationID, err := h.engine.ReserveStock(r.Context(), domain.ReserveStockCommand{
		ProductID:      req.ProductID,
		Location:       req.Location,
		Quantity:       req.Quantity,
		OrderReference: req.OrderReference,
		RequestedBy:    req.RequestedBy,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"reservation_id": reservationID})
}

type cancelReservationRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

func (h *HTTPHandler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	var req cancelReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.engine.CancelReservation(r.Context(), domain.CancelReservationCommand{
		ReservationID: chi.URLParam(r, "id"),
		Reason:        req.Reason,
		CancelledBy:   req.CancelledBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type fulfillReservationRequest struct {
	FulfilledBy       string `json:"fulfilled_by"`
	DispatchReference string `json:"dispatch_reference"`
}

func (h *HTTPHandler) fulfillReservation(w http.ResponseWriter, r *http.Request) {
	var req fulfillReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dispatchID, err := h.engine.FulfillReservation(r.Context(), domain.FulfillReservationCommand{
		ReservationID:     chi.URLParam(r, "id"),
		FulfilledBy:       req.FulfilledBy,
		DispatchReference: req.DispatchReference,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"dispatch_id": dispatchID})
}

type adjustStockRequest struct {
	ProductID  string `json:"product_id"`
	Location   string `json:"location"`
	Delta      int    `json:"delta"`
	Reason     string `json:"reason"`
	AdjustedBy string `json:"adjusted_by"`
	Notes      string `json:"notes"`
}

func (h *HTTPHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Location == "" || req.Reason == "" {
		writeMessage(w, http.StatusBadRequest, "missing required fields")
		return
	}

	adjustmentID, err := h.engine.AdjustStock(r.Context(), domain.AdjustStockCommand{
		ProductID:  req.ProductID,
		Location:   req.Location,
		Delta:      req.Delta,
		Reason:     req.Reason,
		AdjustedBy: req.AdjustedBy,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"adjustment_id": adjustmentID})
}

func (h *HTTPHandler) stockAvailability(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeMessage(w, http.StatusBadRequest, "product_id is required")
		return
	}
	writeJSON(w, http.StatusOK, h.queries.StockAvailability(productID, r.URL.Query().Get("location")))
}

func (h *HTTPHandler) reservationStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.queries.ReservationStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) batchInfo(w http.ResponseWriter, r *http.Request) {
	result, err := h.queries.BatchInfo(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) locationInventory(w http.ResponseWriter, r *http.Request) {
	includeReserved := true
	if raw := r.URL.Query().Get("include_reserved"); raw != "" {
		includeReserved = raw == "true" || raw == "1"
	}
	items := h.queries.LocationInventory(chi.URLParam(r, "location"), includeReserved)
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *HTTPHandler) adjustmentHistory(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeMessage(w, http.StatusBadRequest, "product_id is required")
		return
	}

	filter := service.AdjustmentHistoryFilter{
		ProductID: productID,
		Location:  r.URL.Query().Get("location"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	for param, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid "+param+" timestamp")
			return
		}
		*dst = &ts
	}

	adjustments := h.queries.AdjustmentHistory(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{"adjustments": adjustments})
}

func (h *HTTPHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := strconv.Atoi(r.URL.Query().Get("threshold"))
	if err != nil || threshold <= 0 {
		writeMessage(w, http.StatusBadRequest, "threshold must be a positive integer")
		return
	}
	items := h.queries.LowStock(threshold, r.URL.Query().Get("location"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *HTTPHandler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// claimRequest enforces the caller-supplied idempotency key when one is
// present. Returns false when the request was already handled or the claim
// could not be recorded.
func (h *HTTPHandler) claimRequest(w http.ResponseWriter, r *http.Request, key string, present bool) bool {
	if !present || h.cache == nil {
		return true
	}
	ok, err := h.cache.SetIdempotency(r.Context(), key)
	if err != nil {
		h.log.Error("idempotency check failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !ok {
		writeMessage(w, http.StatusConflict, "duplicate request")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidAdjustment):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidStateTransition):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrBatchNotFound):
		status = http.StatusNotFound
		message = err.Error()
	}

	writeMessage(w, status, message)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
