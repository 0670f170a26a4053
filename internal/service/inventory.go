package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

var (
	ErrProductNotFound   = apperror.NotFound("product not found")
	ErrInsufficientStock = apperror.BadRequest("insufficient stock")
	ErrInvalidQuantity   = apperror.BadRequest("quantity must be at least 1")
)

// InventoryLedger owns reads and writes of product stock.
type InventoryLedger struct {
	products repository.ProductRepository
}

func NewInventoryLedger(products repository.ProductRepository) *InventoryLedger {
	return &InventoryLedger{products: products}
}

// CheckStock returns the product when qty units are available.
func (l *InventoryLedger) CheckStock(ctx context.Context, productID uuid.UUID, qty int) (*model.Product, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	product, err := l.products.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	if product.Stock < qty {
		return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, product.Name, product.Stock)
	}
	return product, nil
}

// Decrement removes qty units from stock. It must run inside a transaction:
// the row is locked, re-validated and then decremented, and the locked
// snapshot (with the live price) is returned.
func (l *InventoryLedger) Decrement(ctx context.Context, productID uuid.UUID, qty int) (*model.Product, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	product, err := l.products.GetByIDForUpdate(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lock product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	if product.Stock < qty {
		return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, product.Name, product.Stock)
	}

	if err := l.products.DecrementStock(ctx, productID, qty); err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		}
		return nil, err
	}
	product.Stock -= qty
	return product, nil
}
