// Package menu resolves which stock a menu item consumes.
package menu

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/platform/db"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Mapping states that one unit of a menu item consumes QtyPerItem of a product.
type Mapping struct {
	ID         int64           `json:"id"`
	MenuItemID int64           `json:"menuItemId"`
	ProductID  int64           `json:"productId"`
	VariantID  *int64          `json:"variantId,omitempty"`
	QtyPerItem decimal.Decimal `json:"qtyPerItem"`
	UnitID     *int64          `json:"unitId,omitempty"`
}

// MappingInput is one entry of a replacement set.
type MappingInput struct {
	ProductID  int64
	VariantID  *int64
	QtyPerItem decimal.Decimal
	UnitID     *int64
}

// ErrInvalidMapping rejects non-positive consumption quantities.
var ErrInvalidMapping = shared.NewCodedError(shared.ErrValidation, "validation_failed", "menu: qty per item must be positive with at most 3 decimal places")

const mappingColumns = `id, menu_item_id, product_id, variant_id, qty_per_item, unit_id`

// Reader looks mappings up on any querier, including an open transaction.
type Reader struct {
	q shared.Querier
}

// NewReader binds a Reader to q.
func NewReader(q shared.Querier) *Reader {
	return &Reader{q: q}
}

// GetMappings returns the mappings of one menu item. An empty result is valid
// and means the item consumes no tracked stock.
func (r *Reader) GetMappings(ctx context.Context, menuItemID int64) ([]Mapping, error) {
	rows, err := r.q.Query(ctx, `SELECT `+mappingColumns+` FROM menu_item_product_map
		WHERE menu_item_id = $1 ORDER BY id`, menuItemID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// GetMappingsForItems returns mappings keyed by menu item id.
func (r *Reader) GetMappingsForItems(ctx context.Context, menuItemIDs []int64) (map[int64][]Mapping, error) {
	out := make(map[int64][]Mapping, len(menuItemIDs))
	if len(menuItemIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+mappingColumns+` FROM menu_item_product_map
		WHERE menu_item_id = ANY($1) ORDER BY menu_item_id, id`, menuItemIDs)
	if err != nil {
		return nil, err
	}
	list, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		out[m.MenuItemID] = append(out[m.MenuItemID], m)
	}
	return out, nil
}

func collect(rows pgx.Rows) ([]Mapping, error) {
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.MenuItemID, &m.ProductID, &m.VariantID, &m.QtyPerItem, &m.UnitID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Repository manages mappings outside of order transactions.
type Repository struct {
	pool *pgxpool.Pool
	*Reader
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, Reader: NewReader(pool)}
}

// ReplaceMappings swaps the full mapping set of a menu item.
func (r *Repository) ReplaceMappings(ctx context.Context, menuItemID int64, inputs []MappingInput) ([]Mapping, error) {
	var out []Mapping
	err := db.WithTx(ctx, r.pool, db.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM menu_item_product_map WHERE menu_item_id = $1`, menuItemID); err != nil {
			return err
		}
		for _, in := range inputs {
			m := Mapping{MenuItemID: menuItemID, ProductID: in.ProductID, VariantID: in.VariantID, QtyPerItem: in.QtyPerItem, UnitID: in.UnitID}
			err := tx.QueryRow(ctx, `INSERT INTO menu_item_product_map (menu_item_id, product_id, variant_id, qty_per_item, unit_id)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`, menuItemID, in.ProductID, in.VariantID, in.QtyPerItem, in.UnitID).Scan(&m.ID)
			if err != nil {
				if db.IsUniqueViolation(err) {
					return shared.ValidationError("menu: duplicate mapping for product %d", in.ProductID)
				}
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Store is the persistence used by Service.
type Store interface {
	GetMappings(ctx context.Context, menuItemID int64) ([]Mapping, error)
	ReplaceMappings(ctx context.Context, menuItemID int64, inputs []MappingInput) ([]Mapping, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service validates and maintains menu to stock mappings.
type Service struct {
	store Store
	audit AuditPort
}

// NewService builds Service.
func NewService(store Store, audit AuditPort) *Service {
	return &Service{store: store, audit: audit}
}

// GetMappings returns the mappings of a menu item.
func (s *Service) GetMappings(ctx context.Context, menuItemID int64) ([]Mapping, error) {
	if menuItemID <= 0 {
		return nil, shared.ValidationError("menu: menu item required")
	}
	return s.store.GetMappings(ctx, menuItemID)
}

// ReplaceMappings validates and stores a new mapping set.
func (s *Service) ReplaceMappings(ctx context.Context, menuItemID int64, inputs []MappingInput, actorID int64) ([]Mapping, error) {
	if menuItemID <= 0 {
		return nil, shared.ValidationError("menu: menu item required")
	}
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.ProductID <= 0 {
			return nil, shared.ValidationError("menu: product required")
		}
		if !inventory.ValidQuantity(in.QtyPerItem) {
			return nil, ErrInvalidMapping
		}
		k := variantKey(in.ProductID, in.VariantID)
		if _, dup := seen[k]; dup {
			return nil, shared.ValidationError("menu: duplicate mapping for product %d", in.ProductID)
		}
		seen[k] = struct{}{}
	}
	out, err := s.store.ReplaceMappings(ctx, menuItemID, inputs)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: "MENU_MAPPING_REPLACE", Entity: "menu_item", EntityID: strconv.FormatInt(menuItemID, 10), Meta: map[string]any{"count": len(out)}})
	}
	return out, nil
}

func variantKey(productID int64, variantID *int64) string {
	if variantID == nil {
		return fmt.Sprintf("%d:-", productID)
	}
	return fmt.Sprintf("%d:%d", productID, *variantID)
}
