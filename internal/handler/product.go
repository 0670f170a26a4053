package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/service"
)

type ProductHandler struct {
	productService *service.ProductService
	cache          *cache.ResponseCache
}

func NewProductHandler(productService *service.ProductService, rc *cache.ResponseCache) *ProductHandler {
	return &ProductHandler{productService: productService, cache: rc}
}

func (h *ProductHandler) Create(c *gin.Context) {
	var req dto.CreateProductRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.productService.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *ProductHandler) GetByID(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	resp, err := h.productService.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	h.cache.Respond(c, http.StatusOK, resp, 0)
}

func (h *ProductHandler) List(c *gin.Context) {
	var req dto.ListProductsRequest
	if !bindQuery(c, &req) {
		return
	}

	resp, err := h.productService.List(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	h.cache.Respond(c, http.StatusOK, resp, 0)
}

func (h *ProductHandler) ListByCategory(c *gin.Context) {
	categoryID, ok := uuidParam(c, "categoryId")
	if !ok {
		return
	}
	var req dto.ListProductsRequest
	if !bindQuery(c, &req) {
		return
	}

	resp, err := h.productService.ListByCategory(c.Request.Context(), categoryID, req)
	if err != nil {
		fail(c, err)
		return
	}

	h.cache.Respond(c, http.StatusOK, resp, 0)
}

func (h *ProductHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateProductRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.productService.Update(c.Request.Context(), id, req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ProductHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.productService.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.Message("product deleted"))
}
