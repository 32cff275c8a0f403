package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/platform/httpx"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Handler exposes inventory endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjust", h.adjust)
	r.Post("/transfer", h.transfer)
	r.Get("/records", h.getRecord)
	r.Get("/history", h.history)
	r.Get("/low-stock", h.lowStock)
}

type adjustRequest struct {
	ProductID     int64           `json:"productId" validate:"required,gt=0"`
	VariantID     *int64          `json:"variantId" validate:"omitempty,gt=0"`
	LocationID    int64           `json:"locationId" validate:"required,gt=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"referenceType" validate:"max=50"`
	ReferenceID   string          `json:"referenceId" validate:"max=100"`
	Notes         string          `json:"notes" validate:"max=500"`
}

type transferRequest struct {
	ProductID      int64           `json:"productId" validate:"required,gt=0"`
	VariantID      *int64          `json:"variantId" validate:"omitempty,gt=0"`
	FromLocationID int64           `json:"fromLocationId" validate:"required,gt=0"`
	ToLocationID   int64           `json:"toLocationId" validate:"required,gt=0,nefield=FromLocationID"`
	Quantity       decimal.Decimal `json:"quantity"`
	Notes          string          `json:"notes" validate:"max=500"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	rec, err := h.service.Adjust(r.Context(), AdjustmentInput{
		ProductID:     req.ProductID,
		VariantID:     req.VariantID,
		LocationID:    req.LocationID,
		Quantity:      req.Quantity,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	rec, err := h.service.GetRecord(r.Context(), key)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	productID, _, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	filter := HistoryFilter{
		ProductID: productID,
		Type:      TransactionType(r.URL.Query().Get("type")),
		Limit:     httpx.QueryInt(r, "limit", 0),
		Offset:    httpx.QueryInt(r, "offset", 0),
	}
	if v, ok, err := httpx.QueryInt64(r, "variant_id"); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	} else if ok {
		filter.VariantID = &v
	}
	if v, ok, err := httpx.QueryInt64(r, "location_id"); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	} else if ok {
		filter.LocationID = &v
	}
	items, err := h.service.History(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []StockTransaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	var threshold *decimal.Decimal
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			httpx.Fail(w, r, h.logger, shared.ValidationError("invalid threshold %q", raw))
			return
		}
		threshold = &v
	}
	items, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []LowStockItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func keyFromQuery(r *http.Request) (StockKey, error) {
	var key StockKey
	var err error
	if key.ProductID, _, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return key, err
	}
	if key.LocationID, _, err = httpx.QueryInt64(r, "location_id"); err != nil {
		return key, err
	}
	v, ok, err := httpx.QueryInt64(r, "variant_id")
	if err != nil {
		return key, err
	}
	if ok {
		key.VariantID = &v
	}
	return key, nil
}
