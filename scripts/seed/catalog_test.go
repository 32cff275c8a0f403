package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBundledCatalogIsValid(t *testing.T) {
	f, err := os.Open("catalog.yaml")
	require.NoError(t, err)
	defer f.Close()

	c, err := loadCatalog(f)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.LocationID)
	require.NotEmpty(t, c.Products)
	require.Equal(t, "0.25", c.MenuItems[2].Mappings[0].QtyPerItem.String())
}

func TestCatalogValidation(t *testing.T) {
	cases := map[string]string{
		"unknown sku": `
location_id: 1
products: [{sku: A, name: a}]
menu_items: [{id: 1, name: x, mappings: [{sku: B, qty_per_item: "1"}]}]`,
		"zero qty": `
location_id: 1
products: [{sku: A, name: a}]
menu_items: [{id: 1, name: x, mappings: [{sku: A, qty_per_item: "0"}]}]`,
		"unknown variant": `
location_id: 1
products: [{sku: A, name: a, variants: [{name: Red}]}]
menu_items: [{id: 1, name: x, mappings: [{sku: A, variant: Blue, qty_per_item: "1"}]}]`,
		"duplicate sku": `
location_id: 1
products: [{sku: A, name: a}, {sku: A, name: b}]`,
		"unknown field": `
location_id: 1
warehouse: main`,
		"missing location": `
products: [{sku: A, name: a}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadCatalog(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}
