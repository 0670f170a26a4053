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
	ErrProductExists = apperror.Conflict("product name already exists")
	ErrInvalidPrice  = apperror.BadRequest("price must not be negative")
	ErrInvalidStock  = apperror.BadRequest("stock must not be negative")
)

type ProductService struct {
	tx           repository.Transactor
	productRepo  repository.ProductRepository
	categoryRepo repository.CategoryRepository
	cache        CacheInvalidator
}

func NewProductService(tx repository.Transactor, productRepo repository.ProductRepository, categoryRepo repository.CategoryRepository, cache CacheInvalidator) *ProductService {
	return &ProductService{tx: tx, productRepo: productRepo, categoryRepo: categoryRepo, cache: cache}
}

func (s *ProductService) Create(ctx context.Context, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
	if req.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if req.Stock < 0 {
		return nil, ErrInvalidStock
	}
	if err := s.checkName(ctx, req.Name, nil); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	product := &model.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		CategoryID:  req.CategoryID,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrProductExists
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.cache.Invalidate(ctx, cache.ProductKeys(product.ID, product.CategoryID)...)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	return s.list(ctx, req, nil)
}

func (s *ProductService) ListByCategory(ctx context.Context, categoryID uuid.UUID, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	if err := s.checkCategory(ctx, &categoryID); err != nil {
		return nil, err
	}
	return s.list(ctx, req, &categoryID)
}

func (s *ProductService) list(ctx context.Context, req dto.ListProductsRequest, categoryID *uuid.UUID) (*dto.ProductListResponse, error) {
	offset := (req.Page - 1) * req.Limit
	products, total, err := s.productRepo.List(ctx, repository.ProductQuery{
		Limit:      req.Limit,
		Offset:     offset,
		Search:     req.Search,
		Sort:       req.Sort,
		Order:      req.Order,
		CategoryID: categoryID,
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i]))
	}
	return &dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

// Update applies the supplied fields to a locked product row, so a
// concurrent checkout's stock decrement is never written over.
func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*dto.ProductResponse, error) {
	if req.Price != nil && req.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if req.Stock != nil && *req.Stock < 0 {
		return nil, ErrInvalidStock
	}

	var product *model.Product
	var previousCategory *uuid.UUID
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		product, err = s.productRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if product == nil {
			return ErrProductNotFound
		}
		previousCategory = product.CategoryID

		if req.Name != nil && *req.Name != product.Name {
			if err := s.checkName(ctx, *req.Name, &id); err != nil {
				return err
			}
			product.Name = *req.Name
		}
		if req.Description != nil {
			product.Description = *req.Description
		}
		if req.Price != nil {
			product.Price = *req.Price
		}
		if req.Stock != nil {
			product.Stock = *req.Stock
		}
		if req.CategoryID != nil {
			if err := s.checkCategory(ctx, req.CategoryID); err != nil {
				return err
			}
			product.CategoryID = req.CategoryID
		}

		if err := s.productRepo.Update(ctx, product); err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				return ErrProductNotFound
			case errors.Is(err, repository.ErrDuplicate):
				return ErrProductExists
			}
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, product.ID, previousCategory, product.CategoryID)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return ErrProductNotFound
	}
	if err := s.productRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("delete product: %w", err)
	}
	s.invalidate(ctx, id, product.CategoryID)
	return nil
}

func (s *ProductService) invalidate(ctx context.Context, id uuid.UUID, categories ...*uuid.UUID) {
	keys := cache.ProductKeys(id, nil)
	for _, c := range categories {
		if c != nil {
			keys = append(keys, cache.CategoryProductsKey(*c))
		}
	}
	s.cache.Invalidate(ctx, keys...)
}

func (s *ProductService) checkName(ctx context.Context, name string, exclude *uuid.UUID) error {
	exists, err := s.productRepo.ExistsByName(ctx, name, exclude)
	if err != nil {
		return fmt.Errorf("check product name: %w", err)
	}
	if exists {
		return ErrProductExists
	}
	return nil
}

func (s *ProductService) checkCategory(ctx context.Context, categoryID *uuid.UUID) error {
	if categoryID == nil {
		return nil
	}
	category, err := s.categoryRepo.GetByID(ctx, *categoryID)
	if err != nil {
		return fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return ErrCategoryNotFound
	}
	return nil
}

func toProductResponse(p *model.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		CategoryID:  p.CategoryID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
