package cache

import "github.com/google/uuid"

// Path keys invalidated by mutations. They mirror the read routes under /api.

func ProductKeys(productID uuid.UUID, categoryID *uuid.UUID) []string {
	keys := []string{"/api/products", "/api/products/" + productID.String()}
	if categoryID != nil {
		keys = append(keys, CategoryProductsKey(*categoryID))
	}
	return keys
}

func CategoryProductsKey(categoryID uuid.UUID) string {
	return "/api/products/category/" + categoryID.String()
}

func CategoryKeys(categoryID uuid.UUID) []string {
	return []string{
		"/api/categories",
		"/api/categories/" + categoryID.String(),
		CategoryProductsKey(categoryID),
	}
}

func CartKeys(userID, cartID uuid.UUID) []string {
	return []string{"/api/cart/" + userID.String(), "/api/cart/items/" + cartID.String()}
}

func OrderKeys(userID uuid.UUID) []string {
	return []string{"/api/order", "/api/order/" + userID.String()}
}
