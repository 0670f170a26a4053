package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/outbox"
	"github.com/flicky/storefront-api/internal/repository"
	"github.com/flicky/storefront-api/internal/tracing"
)

var (
	ErrEmptyCart     = apperror.BadRequest("cart empty or not found")
	ErrOrderNotFound = apperror.NotFound("order not found")
)

type CheckoutResult struct {
	Order  *model.Order
	CartID uuid.UUID
}

type OrderService struct {
	tx     repository.Transactor
	carts  repository.CartRepository
	orders repository.OrderRepository
	ledger *InventoryLedger
	events EventRecorder
	cache  CacheInvalidator
	log    *slog.Logger
	tracer trace.Tracer
}

func NewOrderService(
	tx repository.Transactor,
	carts repository.CartRepository,
	orders repository.OrderRepository,
	ledger *InventoryLedger,
	events EventRecorder,
	cache CacheInvalidator,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		tx:     tx,
		carts:  carts,
		orders: orders,
		ledger: ledger,
		events: events,
		cache:  cache,
		log:    log,
		tracer: tracing.Tracer(),
	}
}

// Checkout converts the user's cart into a PENDING order in one transaction:
// stock is decremented at live prices, the order and its items are written,
// the cart is emptied and an order.placed event is recorded. Any failure
// rolls all of it back.
func (s *OrderService) Checkout(ctx context.Context, userID uuid.UUID) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Checkout",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	var result *CheckoutResult
	var purchased []model.Product

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cart, err := s.carts.GetByUserIDForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		if cart == nil {
			return ErrEmptyCart
		}
		items, err := s.carts.ListItems(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("get cart items: %w", err)
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		// Fixed lock order across concurrent checkouts.
		slices.SortFunc(items, func(a, b model.CartItem) int {
			return bytes.Compare(a.ProductID[:], b.ProductID[:])
		})

		order := &model.Order{UserID: userID, Status: model.OrderStatusPending, Total: decimal.Zero}
		purchased = make([]model.Product, 0, len(items))
		for _, item := range items {
			product, err := s.ledger.Decrement(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			purchased = append(purchased, *product)
			order.Items = append(order.Items, model.OrderItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Price:     product.Price,
			})
			order.Total = order.Total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		if err := s.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.carts.ClearItems(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		event, err := orderPlacedEvent(ctx, order)
		if err != nil {
			return err
		}
		if err := s.events.Enqueue(ctx, event); err != nil {
			return fmt.Errorf("record order event: %w", err)
		}

		result = &CheckoutResult{Order: order, CartID: cart.ID}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		return nil, err
	}

	keys := append(cache.CartKeys(userID, result.CartID), cache.OrderKeys(userID)...)
	for _, p := range purchased {
		keys = append(keys, cache.ProductKeys(p.ID, p.CategoryID)...)
	}
	s.cache.Invalidate(ctx, keys...)

	span.SetAttributes(attribute.String("order.id", result.Order.ID.String()))
	s.log.Info("order placed",
		"order_id", result.Order.ID,
		"user_id", userID,
		"items", len(result.Order.Items),
		"total", result.Order.Total.StringFixed(2),
	)
	return result, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	orders, err := s.orders.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetForUser returns orderID only when it belongs to userID.
func (s *OrderService) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil || order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListAll(ctx context.Context) ([]model.Order, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func orderPlacedEvent(ctx context.Context, order *model.Order) (*outbox.Event, error) {
	payload := model.OrderPlaced{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Total:    order.Total,
		PlacedAt: order.CreatedAt,
	}
	if payload.PlacedAt.IsZero() {
		payload.PlacedAt = time.Now().UTC()
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, model.OrderPlacedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	return &outbox.Event{
		AggregateType: outbox.AggregateOrder,
		AggregateID:   order.ID.String(),
		Type:          outbox.TypeOrderPlaced,
		Payload:       body,
		Headers:       tracing.HeadersFromContext(ctx),
	}, nil
}
