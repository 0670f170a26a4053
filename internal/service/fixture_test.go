package service

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/testutil"
)

type fixture struct {
	store    *testutil.Store
	cache    *testutil.Invalidator
	mail     *testutil.MailQueue
	ledger   *InventoryLedger
	carts    *CartService
	orders   *OrderService
	products *ProductService
	cats     *CategoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	inv := &testutil.Invalidator{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := NewInventoryLedger(store.Products())

	return &fixture{
		store:    store,
		cache:    inv,
		mail:     &testutil.MailQueue{},
		ledger:   ledger,
		carts:    NewCartService(store, store.Carts(), ledger, inv),
		orders:   NewOrderService(store, store.Carts(), store.Orders(), ledger, store.Outbox(), inv, log),
		products: NewProductService(store, store.Products(), store.Categories(), inv),
		cats:     NewCategoryService(store.Categories(), inv),
	}
}

func (f *fixture) user(t *testing.T) model.User {
	t.Helper()
	return f.store.SeedUser(model.User{Email: uuid.NewString() + "@example.com"})
}

func (f *fixture) product(t *testing.T, name, price string, stock int) model.Product {
	t.Helper()
	return f.store.SeedProduct(model.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock})
}
