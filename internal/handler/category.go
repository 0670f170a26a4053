package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/service"
)

type CategoryHandler struct {
	categoryService *service.CategoryService
	cache           *cache.ResponseCache
}

func NewCategoryHandler(categoryService *service.CategoryService, rc *cache.ResponseCache) *CategoryHandler {
	return &CategoryHandler{categoryService: categoryService, cache: rc}
}

func (h *CategoryHandler) List(c *gin.Context) {
	resp, err := h.categoryService.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, resp, 0)
}

func (h *CategoryHandler) GetByID(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.categoryService.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.Respond(c, http.StatusOK, resp, 0)
}

func (h *CategoryHandler) Create(c *gin.Context) {
	var req dto.CreateCategoryRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.categoryService.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *CategoryHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateCategoryRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.categoryService.Update(c.Request.Context(), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CategoryHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.categoryService.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("category deleted"))
}
