package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

var (
	ErrCategoryNotFound = apperror.NotFound("category not found")
	ErrCategoryExists   = apperror.Conflict("category name already exists")
)

type CategoryService struct {
	categoryRepo repository.CategoryRepository
	cache        CacheInvalidator
}

func NewCategoryService(categoryRepo repository.CategoryRepository, cache CacheInvalidator) *CategoryService {
	return &CategoryService{categoryRepo: categoryRepo, cache: cache}
}

func (s *CategoryService) Create(ctx context.Context, req dto.CreateCategoryRequest) (*dto.CategoryResponse, error) {
	if err := s.checkName(ctx, req.Name, nil); err != nil {
		return nil, err
	}
	category := &model.Category{Name: req.Name, Description: req.Description}
	if err := s.categoryRepo.Create(ctx, category); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("create category: %w", err)
	}

	s.cache.Invalidate(ctx, cache.CategoryKeys(category.ID)...)
	resp := toCategoryResponse(category)
	return &resp, nil
}

func (s *CategoryService) GetByID(ctx context.Context, id uuid.UUID) (*dto.CategoryResponse, error) {
	category, err := s.categoryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return nil, ErrCategoryNotFound
	}
	resp := toCategoryResponse(category)
	return &resp, nil
}

func (s *CategoryService) List(ctx context.Context) ([]dto.CategoryResponse, error) {
	categories, err := s.categoryRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	resp := make([]dto.CategoryResponse, 0, len(categories))
	for i := range categories {
		resp = append(resp, toCategoryResponse(&categories[i]))
	}
	return resp, nil
}

func (s *CategoryService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateCategoryRequest) (*dto.CategoryResponse, error) {
	category, err := s.categoryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return nil, ErrCategoryNotFound
	}

	if req.Name != nil && *req.Name != category.Name {
		if err := s.checkName(ctx, *req.Name, &id); err != nil {
			return nil, err
		}
		category.Name = *req.Name
	}
	if req.Description != nil {
		category.Description = *req.Description
	}

	if err := s.categoryRepo.Update(ctx, category); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrCategoryNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("update category: %w", err)
	}

	s.cache.Invalidate(ctx, cache.CategoryKeys(id)...)
	resp := toCategoryResponse(category)
	return &resp, nil
}

func (s *CategoryService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.categoryRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("delete category: %w", err)
	}
	s.cache.Invalidate(ctx, append(cache.CategoryKeys(id), "/api/products")...)
	return nil
}

func (s *CategoryService) checkName(ctx context.Context, name string, exclude *uuid.UUID) error {
	exists, err := s.categoryRepo.ExistsByName(ctx, name, exclude)
	if err != nil {
		return fmt.Errorf("check category name: %w", err)
	}
	if exists {
		return ErrCategoryExists
	}
	return nil
}

func toCategoryResponse(c *model.Category) dto.CategoryResponse {
	return dto.CategoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
