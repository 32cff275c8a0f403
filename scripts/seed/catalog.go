package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type catalog struct {
	LocationID int64         `yaml:"location_id"`
	Products   []productSeed `yaml:"products"`
	MenuItems  []menuSeed    `yaml:"menu_items"`
}

type productSeed struct {
	SKU           string          `yaml:"sku"`
	Name          string          `yaml:"name"`
	CostPrice     decimal.Decimal `yaml:"cost_price"`
	MinStockLevel decimal.Decimal `yaml:"min_stock_level"`
	OpeningStock  decimal.Decimal `yaml:"opening_stock"`
	Variants      []variantSeed   `yaml:"variants"`
}

type variantSeed struct {
	Name         string          `yaml:"name"`
	OpeningStock decimal.Decimal `yaml:"opening_stock"`
}

type menuSeed struct {
	ID       int64         `yaml:"id"`
	Name     string        `yaml:"name"`
	Mappings []mappingSeed `yaml:"mappings"`
}

type mappingSeed struct {
	SKU        string          `yaml:"sku"`
	Variant    string          `yaml:"variant"`
	QtyPerItem decimal.Decimal `yaml:"qty_per_item"`
}

func loadCatalog(r io.Reader) (catalog, error) {
	var c catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return c, c.validate()
}

func (c catalog) validate() error {
	if c.LocationID <= 0 {
		return errors.New("catalog: location_id must be positive")
	}
	skus := make(map[string]productSeed, len(c.Products))
	for _, p := range c.Products {
		if p.SKU == "" || p.Name == "" {
			return errors.New("catalog: every product needs sku and name")
		}
		if _, dup := skus[p.SKU]; dup {
			return fmt.Errorf("catalog: duplicate sku %s", p.SKU)
		}
		if p.OpeningStock.IsNegative() || p.CostPrice.IsNegative() || p.MinStockLevel.IsNegative() {
			return fmt.Errorf("catalog: %s has negative amounts", p.SKU)
		}
		skus[p.SKU] = p
	}
	for _, m := range c.MenuItems {
		if m.ID <= 0 {
			return fmt.Errorf("catalog: menu item %q needs a positive id", m.Name)
		}
		for _, mp := range m.Mappings {
			p, ok := skus[mp.SKU]
			if !ok {
				return fmt.Errorf("catalog: menu item %d maps unknown sku %s", m.ID, mp.SKU)
			}
			if mp.Variant != "" && !p.hasVariant(mp.Variant) {
				return fmt.Errorf("catalog: menu item %d maps unknown variant %s/%s", m.ID, mp.SKU, mp.Variant)
			}
			if !mp.QtyPerItem.IsPositive() {
				return fmt.Errorf("catalog: menu item %d has non-positive qty for %s", m.ID, mp.SKU)
			}
		}
	}
	return nil
}

func (p productSeed) hasVariant(name string) bool {
	for _, v := range p.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}
