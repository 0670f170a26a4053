package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

var (
	ErrCartNotFound     = apperror.NotFound("cart not found")
	ErrCartItemNotFound = apperror.NotFound("cart item not found")
	ErrWrongCart        = apperror.BadRequest("item does not belong to this cart")
	ErrCartForbidden    = apperror.Forbidden("access denied: cart belongs to another user")
	ErrNoItems          = apperror.BadRequest("no items to update")
)

type ItemUpdate struct {
	CartItemID uuid.UUID
	Quantity   int
}

type CartService struct {
	tx     repository.Transactor
	carts  repository.CartRepository
	ledger *InventoryLedger
	cache  CacheInvalidator
}

func NewCartService(tx repository.Transactor, carts repository.CartRepository, ledger *InventoryLedger, cache CacheInvalidator) *CartService {
	return &CartService{tx: tx, carts: carts, ledger: ledger, cache: cache}
}

// GetOrCreateCart is idempotent: concurrent callers observe the same cart.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart, err := s.carts.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}
	return cart, nil
}

// GetCart returns the user's cart with items and live product snapshots.
func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	cart, err := s.carts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	if cart.Items, err = s.carts.ListItems(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	return cart, nil
}

func (s *CartService) GetCartItems(ctx context.Context, userID, cartID uuid.UUID) ([]model.CartItem, error) {
	if _, err := s.ownedCart(ctx, userID, cartID, false); err != nil {
		return nil, err
	}
	items, err := s.carts.ListItems(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	return items, nil
}

// CheckOwner fails unless cartID exists and belongs to userID.
func (s *CartService) CheckOwner(ctx context.Context, userID, cartID uuid.UUID) error {
	_, err := s.ownedCart(ctx, userID, cartID, false)
	return err
}

// GetItem looks up the cart's line for productID; nil when there is none.
func (s *CartService) GetItem(ctx context.Context, cartID, productID uuid.UUID) (*model.CartItem, error) {
	item, err := s.carts.GetItem(ctx, cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

// AddItem creates the cart lazily and either inserts a new line or adds qty
// to the existing line for the product, validating the resulting quantity
// against stock.
func (s *CartService) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*model.CartItem, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	var result *model.CartItem
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cart, err := s.GetOrCreateCart(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.carts.GetByIDForUpdate(ctx, cart.ID); err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}

		existing, err := s.GetItem(ctx, cart.ID, productID)
		if err != nil {
			return err
		}

		total := qty
		if existing != nil {
			total += existing.Quantity
		}
		if _, err := s.ledger.CheckStock(ctx, productID, total); err != nil {
			return err
		}

		if existing != nil {
			if err := s.carts.UpdateItemQuantity(ctx, existing.ID, total); err != nil {
				return fmt.Errorf("update cart item: %w", err)
			}
			existing.Quantity = total
			result = existing
			return nil
		}

		item := &model.CartItem{CartID: cart.ID, ProductID: productID, Quantity: qty}
		if err := s.carts.AddItem(ctx, item); err != nil {
			return fmt.Errorf("add cart item: %w", err)
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.CartKeys(userID, result.CartID)...)
	return result, nil
}

// UpdateItem sets the quantity of one line of cartID.
func (s *CartService) UpdateItem(ctx context.Context, userID, cartID, itemID uuid.UUID, qty int) (*model.CartItem, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	var item *model.CartItem
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.carts.GetItemByID(ctx, itemID)
		if err != nil {
			return fmt.Errorf("get cart item: %w", err)
		}
		if item == nil {
			return ErrCartItemNotFound
		}
		if item.CartID != cartID {
			return ErrWrongCart
		}
		if _, err := s.ownedCart(ctx, userID, cartID, true); err != nil {
			return err
		}
		if _, err := s.ledger.CheckStock(ctx, item.ProductID, qty); err != nil {
			return err
		}
		if err := s.carts.UpdateItemQuantity(ctx, itemID, qty); err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}
		item.Quantity = qty
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.CartKeys(userID, cartID)...)
	return item, nil
}

// UpdateManyItems applies every update or none. Unknown item ids fail the
// whole batch before anything is written.
func (s *CartService) UpdateManyItems(ctx context.Context, userID, cartID uuid.UUID, updates []ItemUpdate) ([]model.CartItem, error) {
	if len(updates) == 0 {
		return nil, ErrNoItems
	}
	for _, u := range updates {
		if u.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
	}

	var items []model.CartItem
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.ownedCart(ctx, userID, cartID, true); err != nil {
			return err
		}

		current, err := s.carts.ListItems(ctx, cartID)
		if err != nil {
			return fmt.Errorf("get cart items: %w", err)
		}
		byID := make(map[uuid.UUID]model.CartItem, len(current))
		for _, it := range current {
			byID[it.ID] = it
		}

		var missing []string
		for _, u := range updates {
			if _, ok := byID[u.CartItemID]; !ok {
				missing = append(missing, u.CartItemID.String())
			}
		}
		if len(missing) > 0 {
			return apperror.BadRequest("cart items not found in this cart: " + strings.Join(missing, ", "))
		}

		for _, u := range updates {
			it := byID[u.CartItemID]
			if it.Product != nil && u.Quantity > it.Product.Stock {
				return fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, it.Product.Name, it.Product.Stock)
			}
		}

		for _, u := range updates {
			if err := s.carts.UpdateItemQuantity(ctx, u.CartItemID, u.Quantity); err != nil {
				return fmt.Errorf("update cart item: %w", err)
			}
		}

		items, err = s.carts.ListItems(ctx, cartID)
		if err != nil {
			return fmt.Errorf("get cart items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.CartKeys(userID, cartID)...)
	return items, nil
}

// RemoveItem deletes a line. Removing an absent line succeeds.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) error {
	item, err := s.carts.GetItemByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get cart item: %w", err)
	}
	if item == nil {
		return nil
	}
	if _, err := s.ownedCart(ctx, userID, item.CartID, false); err != nil {
		return err
	}
	if err := s.carts.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}

	s.cache.Invalidate(ctx, cache.CartKeys(userID, item.CartID)...)
	return nil
}

// Clear empties cartID. Clearing an absent or empty cart succeeds.
func (s *CartService) Clear(ctx context.Context, userID, cartID uuid.UUID) error {
	cart, err := s.carts.GetByID(ctx, cartID)
	if err != nil {
		return fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil
	}
	if cart.UserID != userID {
		return ErrCartForbidden
	}
	if err := s.carts.ClearItems(ctx, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.cache.Invalidate(ctx, cache.CartKeys(userID, cartID)...)
	return nil
}

func (s *CartService) ClearForUser(ctx context.Context, userID uuid.UUID) error {
	cart, err := s.carts.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil
	}
	return s.Clear(ctx, userID, cart.ID)
}

func (s *CartService) ownedCart(ctx context.Context, userID, cartID uuid.UUID, lock bool) (*model.Cart, error) {
	get := s.carts.GetByID
	if lock {
		get = s.carts.GetByIDForUpdate
	}
	cart, err := get(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	if cart.UserID != userID {
		return nil, ErrCartForbidden
	}
	return cart, nil
}
