package orders

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/platform/httpx"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Handler exposes order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createRequest struct {
	TableID        *int64              `json:"tableId" validate:"omitempty,gt=0"`
	LocationID     int64               `json:"locationId" validate:"omitempty,gt=0"`
	Notes          string              `json:"notes" validate:"max=500"`
	DiscountAmount decimal.Decimal     `json:"discountAmount"`
	DiscountType   string              `json:"discountType" validate:"omitempty,oneof=percentage fixed"`
	Items          []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	MenuItemID int64           `json:"menuItemId" validate:"required,gt=0"`
	Quantity   int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Notes      string          `json:"notes" validate:"max=255"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
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
		TableID:        req.TableID,
		LocationID:     req.LocationID,
		Notes:          req.Notes,
		DiscountAmount: req.DiscountAmount,
		DiscountType:   DiscountType(req.DiscountType),
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(shared.IdempotencyHeader),
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			Notes:      it.Notes,
		})
	}
	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  httpx.QueryInt(r, "limit", 0),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	if v, ok, err := httpx.QueryInt64(r, "table_id"); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	} else if ok {
		filter.TableID = &v
	}
	items, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []Order{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	order, err := h.service.CompleteOrder(r.Context(), id, shared.ActorFromContext(r.Context()), r.Header.Get(shared.IdempotencyHeader))
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	order, err := h.service.CancelOrder(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason, r.Header.Get(shared.IdempotencyHeader))
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}
