package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/domain/checkout"
)

func TestStaticCatalog_Product(t *testing.T) {
	c := NewStaticCatalog()

	p, err := c.Product(context.Background(), "bouquet_roses")
	require.NoError(t, err)
	assert.Equal(t, "Red Rose", p.Title)
	assert.Equal(t, int64(1000), p.Price)

	_, err = c.Product(context.Background(), "orchid")
	assert.ErrorIs(t, err, checkout.ErrUnknownItem)
	assert.Contains(t, err.Error(), "orchid")
}

func TestStaticCatalog_Products(t *testing.T) {
	c := NewStaticCatalog(
		checkout.Product{ID: "b", Title: "B", Price: 2},
		checkout.Product{ID: "a", Title: "A", Price: 1},
	)
	products := c.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "a", products[0].ID)
	assert.Equal(t, "b", products[1].ID)
}
