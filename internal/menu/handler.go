package menu

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/platform/httpx"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Handler exposes mapping endpoints under /menu-items.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers mapping routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/stock-mappings", h.list)
	r.Put("/{id}/stock-mappings", h.replace)
}

type mappingRequest struct {
	ProductID  int64           `json:"productId" validate:"required,gt=0"`
	VariantID  *int64          `json:"variantId" validate:"omitempty,gt=0"`
	QtyPerItem decimal.Decimal `json:"qtyPerItem"`
	UnitID     *int64          `json:"unitId" validate:"omitempty,gt=0"`
}

type replaceRequest struct {
	Mappings []mappingRequest `json:"mappings" validate:"dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	mappings, err := h.service.GetMappings(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if mappings == nil {
		mappings = []Mapping{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": mappings})
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	inputs := make([]MappingInput, 0, len(req.Mappings))
	for _, m := range req.Mappings {
		inputs = append(inputs, MappingInput{ProductID: m.ProductID, VariantID: m.VariantID, QtyPerItem: m.QtyPerItem, UnitID: m.UnitID})
	}
	mappings, err := h.service.ReplaceMappings(r.Context(), id, inputs, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if mappings == nil {
		mappings = []Mapping{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": mappings})
}
