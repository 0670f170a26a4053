package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/service"
)

// CartHandler caches reads for ttl. Cart payloads embed live product names
// and prices that product mutations do not invalidate, so ttl bounds how
// stale they can get.
type CartHandler struct {
	svc   *service.CartService
	cache *cache.ResponseCache
	ttl   time.Duration
}

func NewCartHandler(svc *service.CartService, rc *cache.ResponseCache, ttl time.Duration) *CartHandler {
	return &CartHandler{svc: svc, cache: rc, ttl: ttl}
}

func (h *CartHandler) GetCart(c *gin.Context) {
	cart, err := h.svc.GetCart(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, toCartResponse(cart), h.ttl)
}

func (h *CartHandler) AddItem(c *gin.Context) {
	var req dto.AddCartItemRequest
	if !bind(c, &req) {
		return
	}
	item, err := h.svc.AddItem(c.Request.Context(), middleware.GetUserID(c), req.ProductID, req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCartItemResponse(*item))
}

func (h *CartHandler) Clear(c *gin.Context) {
	if err := h.svc.ClearForUser(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("cart cleared"))
}

// GetItems checks ownership before consulting the cache, since the route
// carries a cart id rather than the caller's user id.
func (h *CartHandler) GetItems(c *gin.Context) {
	cartID, ok := uuidParam(c, "cartId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	if err := h.svc.CheckOwner(ctx, userID, cartID); err != nil {
		fail(c, err)
		return
	}
	if h.cache.Serve(c) {
		return
	}

	items, err := h.svc.GetCartItems(ctx, userID, cartID)
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, toCartItemResponses(items), h.ttl)
}

// UpdateItems accepts a single {cart_item_id, quantity} or a batch in items.
func (h *CartHandler) UpdateItems(c *gin.Context) {
	cartID, ok := uuidParam(c, "cartId")
	if !ok {
		return
	}
	var req dto.UpdateCartItemsRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	switch {
	case len(req.Items) > 0:
		updates := make([]service.ItemUpdate, 0, len(req.Items))
		for _, it := range req.Items {
			updates = append(updates, service.ItemUpdate{CartItemID: it.CartItemID, Quantity: it.Quantity})
		}
		items, err := h.svc.UpdateManyItems(ctx, userID, cartID, updates)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toCartItemResponses(items))
	case req.CartItemID != nil:
		item, err := h.svc.UpdateItem(ctx, userID, cartID, *req.CartItemID, req.Quantity)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toCartItemResponse(*item))
	default:
		fail(c, apperror.BadRequest("cart_item_id and quantity, or items, are required"))
	}
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	itemID, ok := uuidParam(c, "cartItemId")
	if !ok {
		return
	}
	if err := h.svc.RemoveItem(c.Request.Context(), middleware.GetUserID(c), itemID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("item removed"))
}

func toCartResponse(cart *model.Cart) dto.CartResponse {
	items := toCartItemResponses(cart.Items)
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return dto.CartResponse{ID: cart.ID, UserID: cart.UserID, Items: items, Total: total}
}

func toCartItemResponses(items []model.CartItem) []dto.CartItemResponse {
	out := make([]dto.CartItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toCartItemResponse(it))
	}
	return out
}

func toCartItemResponse(item model.CartItem) dto.CartItemResponse {
	resp := dto.CartItemResponse{
		ID:        item.ID,
		CartID:    item.CartID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Price:     decimal.Zero,
		Subtotal:  decimal.Zero,
	}
	if item.Product != nil {
		resp.Name = item.Product.Name
		resp.Price = item.Product.Price
		resp.Subtotal = item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
	}
	return resp
}
