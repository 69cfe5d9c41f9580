package product

import (
	"context"
	"fmt"
)

// Product is a catalog entry as needed for pricing a cart.
type Product struct {
	ID          string
	Name        string
	PriceCents  int64
	Collections []string
}

// NotFoundError indicates a requested product does not exist.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products that exist among ids, in any order.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
