// Package catalog provides the merchant's product catalog
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
)

// DefaultProducts is the flower shop catalog. Prices are in minor units.
var DefaultProducts = []checkout.Product{
	{ID: "bouquet_roses", Title: "Red Rose", Price: 1000},
	{ID: "bouquet_tulips", Title: "Spring Tulips", Price: 1200},
	{ID: "pot_ceramic", Title: "Ceramic Pot", Price: 500},
}

// StaticCatalog implements checkout.Catalog from a fixed product list
type StaticCatalog struct {
	products map[string]checkout.Product
}

// NewStaticCatalog creates a catalog; with no products the defaults are used
func NewStaticCatalog(products ...checkout.Product) *StaticCatalog {
	if len(products) == 0 {
		products = DefaultProducts
	}
	c := &StaticCatalog{products: make(map[string]checkout.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Product implements checkout.Catalog
func (c *StaticCatalog) Product(ctx context.Context, itemID string) (checkout.Product, error) {
	p, ok := c.products[itemID]
	if !ok {
		return checkout.Product{}, shared.NewDomainError(checkout.ErrUnknownItem.Code,
			fmt.Sprintf("Item %q is not in the catalog", itemID))
	}
	return p, nil
}

// Products lists the catalog ordered by id
func (c *StaticCatalog) Products() []checkout.Product {
	out := make([]checkout.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ checkout.Catalog = (*StaticCatalog)(nil)
