package procurement

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/platform/httpx"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Handler manages purchase order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/status", h.updateStatus)
}

type createRequest struct {
	PONumber             string              `json:"poNumber" validate:"max=50"`
	SupplierID           int64               `json:"supplierId" validate:"required,gt=0"`
	OrderDate            *time.Time          `json:"orderDate"`
	ExpectedDeliveryDate *time.Time          `json:"expectedDeliveryDate"`
	Notes                string              `json:"notes" validate:"max=1000"`
	Items                []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	ProductID       int64           `json:"productId" validate:"required,gt=0"`
	VariantID       *int64          `json:"variantId" validate:"omitempty,gt=0"`
	QuantityOrdered decimal.Decimal `json:"quantityOrdered"`
	UnitCost        decimal.Decimal `json:"unitCost"`
	TaxRate         decimal.Decimal `json:"taxRate"`
	Notes           string          `json:"notes" validate:"max=500"`
}

type receiveRequest struct {
	LocationID int64                `json:"locationId" validate:"required,gt=0"`
	Notes      string               `json:"notes" validate:"max=500"`
	Items      []receiveItemRequest `json:"items" validate:"required,min=1,dive"`
}

type receiveItemRequest struct {
	POItemID         int64           `json:"poItemId" validate:"required,gt=0"`
	QuantityReceived decimal.Decimal `json:"quantityReceived"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending cancelled"`
	Notes  string `json:"notes" validate:"max=500"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	input := CreateInput{
		PONumber:             req.PONumber,
		SupplierID:           req.SupplierID,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Notes:                req.Notes,
		ActorID:              shared.ActorFromContext(r.Context()),
	}
	if req.OrderDate != nil {
		input.OrderDate = *req.OrderDate
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID:       it.ProductID,
			VariantID:       it.VariantID,
			QuantityOrdered: it.QuantityOrdered,
			UnitCost:        it.UnitCost,
			TaxRate:         it.TaxRate,
			Notes:           it.Notes,
		})
	}
	po, err := h.service.CreateWithItems(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  httpx.QueryInt(r, "limit", 0),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	supplierID, _, err := httpx.QueryInt64(r, "supplier_id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	filter.SupplierID = supplierID
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	input := ReceiveInput{
		LocationID:     req.LocationID,
		Notes:          req.Notes,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(shared.IdempotencyHeader),
	}
	for _, it := range req.Items {
		input.Lines = append(input.Lines, ReceiveLine{POItemID: it.POItemID, Quantity: it.QuantityReceived})
	}
	po, err := h.service.ReceiveItems(r.Context(), id, input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	po, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), shared.ActorFromContext(r.Context()), req.Notes)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}
