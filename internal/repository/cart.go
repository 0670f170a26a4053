package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront-api/internal/model"
)

type CartRepository interface {
	Create(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Cart, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Cart, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	// ListItems returns the cart's items joined with their live product rows.
	ListItems(ctx context.Context, cartID uuid.UUID) ([]model.CartItem, error)
	GetItem(ctx context.Context, cartID, productID uuid.UUID) (*model.CartItem, error)
	GetItemByID(ctx context.Context, itemID uuid.UUID) (*model.CartItem, error)
	AddItem(ctx context.Context, item *model.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	ClearItems(ctx context.Context, cartID uuid.UUID) error
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

// Create inserts the user's cart unless one exists and returns the stored row.
func (r *pgCartRepo) Create(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	db := conn(ctx, r.pool)
	_, err := db.Exec(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	cart, err := scanCart(db.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID,
	))
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, ErrNotFound
	}
	return cart, nil
}

func (r *pgCartRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Cart, error) {
	return r.getCart(ctx, `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1`, id)
}

func (r *pgCartRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Cart, error) {
	return r.getCart(ctx, `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgCartRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	return r.getCart(ctx, `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID)
}

func (r *pgCartRepo) GetByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	return r.getCart(ctx, `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *pgCartRepo) getCart(ctx context.Context, query string, arg uuid.UUID) (*model.Cart, error) {
	cart, err := scanCart(conn(ctx, r.pool).QueryRow(ctx, query, arg))
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

func (r *pgCartRepo) ListItems(ctx context.Context, cartID uuid.UUID) ([]model.CartItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at,
		        p.id, p.name, p.description, p.price, p.stock, p.category_id, p.created_at, p.updated_at
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.product_id`, cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := []model.CartItem{}
	for rows.Next() {
		var item model.CartItem
		p := &model.Product{}
		if err := rows.Scan(
			&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt,
			&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		item.Product = p
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *pgCartRepo) GetItem(ctx context.Context, cartID, productID uuid.UUID) (*model.CartItem, error) {
	item, err := scanCartItem(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, cart_id, product_id, quantity, created_at, updated_at
		 FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID,
	))
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

func (r *pgCartRepo) GetItemByID(ctx context.Context, itemID uuid.UUID) (*model.CartItem, error) {
	item, err := scanCartItem(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, cart_id, product_id, quantity, created_at, updated_at
		 FROM cart_items WHERE id = $1`, itemID,
	))
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

func (r *pgCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	item.ID = uuid.New()
	query := `INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, NOW(), NOW())
			  RETURNING created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		item.ID, item.CartID, item.ProductID, item.Quantity,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *pgCartRepo) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE cart_items SET quantity = $2, updated_at = NOW() WHERE id = $1`,
		itemID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCartRepo) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (r *pgCartRepo) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func scanCart(row pgx.Row) (*model.Cart, error) {
	cart := &model.Cart{}
	err := row.Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return cart, nil
}

func scanCartItem(row pgx.Row) (*model.CartItem, error) {
	item := &model.CartItem{}
	err := row.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}
