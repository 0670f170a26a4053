package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/service"
)

type OrderHandler struct {
	svc   *service.OrderService
	cache *cache.ResponseCache
	ttl   time.Duration
}

func NewOrderHandler(svc *service.OrderService, rc *cache.ResponseCache, ttl time.Duration) *OrderHandler {
	return &OrderHandler{svc: svc, cache: rc, ttl: ttl}
}

func (h *OrderHandler) Checkout(c *gin.Context) {
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	res, err := h.svc.Checkout(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(res.Order))
}

func (h *OrderHandler) ListForUser(c *gin.Context) {
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	orders, err := h.svc.ListByUserID(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, toOrderListResponse(orders), h.ttl)
}

func (h *OrderHandler) GetForUser(c *gin.Context) {
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	orderID, ok := uuidParam(c, "orderId")
	if !ok {
		return
	}
	order, err := h.svc.GetForUser(c.Request.Context(), userID, orderID)
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, toOrderResponse(order), h.ttl)
}

func (h *OrderHandler) ListAll(c *gin.Context) {
	orders, err := h.svc.ListAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, toOrderListResponse(orders), h.ttl)
}

func toOrderListResponse(orders []model.Order) dto.OrderListResponse {
	resp := dto.OrderListResponse{Orders: make([]dto.OrderResponse, 0, len(orders)), Total: len(orders)}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&orders[i]))
	}
	return resp
}

func toOrderResponse(o *model.Order) dto.OrderResponse {
	items := make([]dto.OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, dto.OrderItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return dto.OrderResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		Status:    o.Status,
		Total:     o.Total,
		Items:     items,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}
