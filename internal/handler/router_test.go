package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/service"
	"github.com/flicky/storefront-api/internal/testutil"
	"github.com/flicky/storefront-api/internal/token"
)

type testServer struct {
	router *gin.Engine
	store  *testutil.Store
	tokens *token.Manager
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewStore()
	tokens := token.NewManager("test-secret", time.Hour)
	rc := cache.NewResponseCache(cache.NewRedisStore(client, "cache:"), log, time.Hour)

	ledger := service.NewInventoryLedger(store.Products())
	authSvc := service.NewAuthService(store.Users(), tokens)
	userSvc := service.NewUserService(store.Users())
	resetSvc := service.NewPasswordResetService(store, store.Users(), store.OTPs(), &testutil.MailQueue{}, 10*time.Minute, log)
	categorySvc := service.NewCategoryService(store.Categories(), rc)
	productSvc := service.NewProductService(store, store.Products(), store.Categories(), rc)
	cartSvc := service.NewCartService(store, store.Carts(), ledger, rc)
	orderSvc := service.NewOrderService(store, store.Carts(), store.Orders(), ledger, store.Outbox(), rc, log)

	router := NewRouter(RouterConfig{
		Log:         log,
		Tokens:      tokens,
		Users:       store.Users(),
		Cache:       rc,
		RateLimiter: middleware.NewRateLimiter(client, 5, time.Minute, log),
		CORSOrigins: []string{"http://localhost:3000"},
	}, Handlers{
		Auth:     NewAuthHandler(authSvc, userSvc, resetSvc),
		Category: NewCategoryHandler(categorySvc, rc),
		Product:  NewProductHandler(productSvc, rc),
		Cart:     NewCartHandler(cartSvc, rc, 5*time.Minute),
		Order:    NewOrderHandler(orderSvc, rc, 30*time.Minute),
	})

	return &testServer{router: router, store: store, tokens: tokens, mr: mr}
}

func (s *testServer) seedUser(t *testing.T, role model.Role) model.User {
	t.Helper()
	return s.store.SeedUser(model.User{Email: uuid.NewString() + "@example.com", Role: role})
}

func (s *testServer) do(t *testing.T, method, path string, user *model.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		raw, err := s.tokens.Issue(user)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUpdateUser_OwnershipGuard(t *testing.T) {
	s := newTestServer(t)
	owner := s.seedUser(t, model.RoleCustomer)
	intruder := s.seedUser(t, model.RoleCustomer)
	path := "/api/user/" + owner.ID.String()
	body := dto.UpdateUserRequest{CurrentPassword: "whatever"}

	w := s.do(t, http.MethodPut, path, nil, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", decode[map[string]string](t, w)["status"])

	w = s.do(t, http.MethodPut, path, &intruder, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, path, &intruder, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegisterLoginAndUpdate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/register", nil, dto.RegisterRequest{Email: "hana@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reg := decode[dto.AuthResponse](t, w)

	w = s.do(t, http.MethodPost, "/api/register", nil, dto.RegisterRequest{Email: "hana@example.com", Password: "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/login", nil, dto.LoginRequest{Email: "hana@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code)

	user := model.User{ID: reg.User.ID, Email: reg.User.Email, Role: reg.User.Role}
	newEmail := "hana2@example.com"
	w = s.do(t, http.MethodPut, "/api/user/"+user.ID.String(), &user, dto.UpdateUserRequest{
		CurrentPassword: "password123",
		Email:           &newEmail,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, newEmail, decode[dto.UserResponse](t, w).Email)
}

func TestRegister_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/register", nil, map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", decode[map[string]string](t, w)["status"])
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestServer(t)
	req := dto.LoginRequest{Email: "nobody@example.com", Password: "password123"}

	for i := 0; i < 5; i++ {
		w := s.do(t, http.MethodPost, "/api/login", nil, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/login", nil, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestProtected_AdminOnly(t *testing.T) {
	s := newTestServer(t)
	customer := s.seedUser(t, model.RoleCustomer)
	admin := s.seedUser(t, model.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/protected", &customer, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/protected", &admin, nil).Code)
}

func TestProduct_CachedReadInvalidatedByPatch(t *testing.T) {
	s := newTestServer(t)
	admin := s.seedUser(t, model.RoleAdmin)
	product := s.store.SeedProduct(model.Product{Name: "Lamp", Price: decimal.RequireFromString("10.00"), Stock: 5})
	path := "/api/products/" + product.ID.String()

	first := s.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(cache.HeaderCache))

	second := s.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(cache.HeaderCache))
	assert.Equal(t, first.Body.String(), second.Body.String())

	name := "Desk lamp"
	w := s.do(t, http.MethodPatch, path, &admin, dto.UpdateProductRequest{Name: &name})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	third := s.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "MISS", third.Header().Get(cache.HeaderCache))
	assert.Equal(t, name, decode[dto.ProductResponse](t, third).Name)
}

func TestProduct_AdminOnlyMutations(t *testing.T) {
	s := newTestServer(t)
	customer := s.seedUser(t, model.RoleCustomer)
	req := dto.CreateProductRequest{Name: "Rug", Price: decimal.NewFromInt(40), Stock: 1}

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/products", nil, req).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/products", &customer, req).Code)
}

func TestCheckout_OverHTTP(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, model.RoleCustomer)
	product := s.store.SeedProduct(model.Product{Name: "Book", Price: decimal.RequireFromString("10.00"), Stock: 5})
	cartPath := "/api/cart/" + user.ID.String()

	w := s.do(t, http.MethodPost, cartPath, &user, dto.AddCartItemRequest{ProductID: product.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, cartPath, &user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cart := decode[dto.CartResponse](t, w)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Total.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, 5*time.Minute, s.mr.TTL("cache:"+cartPath))

	w = s.do(t, http.MethodPost, "/api/order/"+user.ID.String(), &user, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[dto.OrderResponse](t, w)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("20.00")), "total %s", order.Total)
	require.Len(t, order.Items, 1)

	// The cached cart was invalidated by checkout.
	w = s.do(t, http.MethodGet, cartPath, &user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(cache.HeaderCache))
	assert.Empty(t, decode[dto.CartResponse](t, w).Items)

	w = s.do(t, http.MethodPost, "/api/order/"+user.ID.String(), &user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/order/"+user.ID.String(), &user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.OrderListResponse](t, w).Total)

	w = s.do(t, http.MethodGet, "/api/order/"+user.ID.String()+"/"+order.ID.String(), &user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30*time.Minute, s.mr.TTL("cache:/api/order/"+user.ID.String()+"/"+order.ID.String()))
}

func TestOrders_OwnerOrAdmin(t *testing.T) {
	s := newTestServer(t)
	owner := s.seedUser(t, model.RoleCustomer)
	other := s.seedUser(t, model.RoleCustomer)
	admin := s.seedUser(t, model.RoleAdmin)
	path := "/api/order/" + owner.ID.String()

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, &other, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, &admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/order", &owner, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/order", &admin, nil).Code)
}

func TestCartItems_OwnershipCheckedBeforeCache(t *testing.T) {
	s := newTestServer(t)
	owner := s.seedUser(t, model.RoleCustomer)
	other := s.seedUser(t, model.RoleCustomer)
	product := s.store.SeedProduct(model.Product{Name: "Mug", Price: decimal.NewFromInt(4), Stock: 5})

	w := s.do(t, http.MethodPost, "/api/cart/"+owner.ID.String(), &owner, dto.AddCartItemRequest{ProductID: product.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	item := decode[dto.CartItemResponse](t, w)
	itemsPath := "/api/cart/items/" + item.CartID.String()

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, itemsPath, &owner, nil).Code)
	hit := s.do(t, http.MethodGet, itemsPath, &owner, nil)
	assert.Equal(t, "HIT", hit.Header().Get(cache.HeaderCache))

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, itemsPath, &other, nil).Code)

	w = s.do(t, http.MethodPatch, itemsPath, &owner, dto.UpdateCartItemsRequest{
		Items: []dto.CartItemUpdate{{CartItemID: item.ID, Quantity: 3}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, itemsPath, &owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]dto.CartItemResponse](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/cart/items/"+item.ID.String(), &owner, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/cart/items/"+item.ID.String(), &owner, nil).Code)
}

func TestHealth_Readyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &HealthHandler{checks: []dependencyCheck{
		{name: "postgres", ping: func(_ context.Context) error { return nil }},
		{name: "redis", ping: func(_ context.Context) error { return errors.New("down") }},
	}}
	r := gin.New()
	r.GET("/readyz", h.Readyz)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decode[map[string]string](t, w)
	assert.Equal(t, "connected", body["postgres"])
	assert.Equal(t, "unavailable", body["redis"])
}
