package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/model"
)

type RouterConfig struct {
	Log         *slog.Logger
	Tokens      middleware.TokenVerifier
	Users       middleware.UserLookup
	Cache       *cache.ResponseCache
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
}

type Handlers struct {
	Auth     *AuthHandler
	Category *CategoryHandler
	Product  *ProductHandler
	Cart     *CartHandler
	Order    *OrderHandler
	Health   *HealthHandler
}

// NewRouter mounts every route. Guards run before cache lookups so a
// cached response is never served to a caller who could not read it.
func NewRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(cfg.Log))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{cache.HeaderCache, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(middleware.ErrorHandler(cfg.Log))

	if h.Health != nil {
		router.GET("/healthz", h.Health.Healthz)
		router.GET("/readyz", h.Health.Readyz)
	}

	limited := func(c *gin.Context) { c.Next() }
	if cfg.RateLimiter != nil {
		limited = cfg.RateLimiter.Middleware()
	}
	auth := middleware.Authenticate(cfg.Tokens, cfg.Users)
	admin := middleware.RequireRole(model.RoleAdmin)
	cached := cfg.Cache.Lookup()

	api := router.Group("/api")
	{
		api.POST("/register", limited, h.Auth.Register)
		api.POST("/login", limited, h.Auth.Login)
		api.GET("/protected", auth, admin, h.Auth.Protected)

		user := api.Group("/user", auth, middleware.RequireOwner("id"))
		user.PUT("/:id", h.Auth.UpdateUser)
		user.DELETE("/:id", h.Auth.DeleteUser)

		otp := api.Group("/service", limited)
		otp.POST("/forgot-password", h.Auth.ForgotPassword)
		otp.POST("/verify-otp", h.Auth.VerifyOTP)
		otp.POST("/reset-password", h.Auth.ResetPassword)

		categories := api.Group("/categories")
		categories.GET("", cached, h.Category.List)
		categories.GET("/:id", cached, h.Category.GetByID)
		categories.POST("", auth, admin, h.Category.Create)
		categories.PATCH("/:id", auth, admin, h.Category.Update)
		categories.DELETE("/:id", auth, admin, h.Category.Delete)

		products := api.Group("/products")
		products.GET("", cached, h.Product.List)
		products.GET("/:id", cached, h.Product.GetByID)
		products.GET("/category/:categoryId", cached, h.Product.ListByCategory)
		products.POST("", auth, admin, h.Product.Create)
		products.PATCH("/:id", auth, admin, h.Product.Update)
		products.DELETE("/:id", auth, admin, h.Product.Delete)

		cart := api.Group("/cart", auth)
		owner := middleware.RequireOwner("userId")
		cart.GET("/:userId", owner, cached, h.Cart.GetCart)
		cart.POST("/:userId", owner, h.Cart.AddItem)
		cart.DELETE("/:userId", owner, h.Cart.Clear)
		cart.GET("/items/:cartId", h.Cart.GetItems)
		cart.PATCH("/items/:cartId", h.Cart.UpdateItems)
		cart.DELETE("/items/:cartItemId", h.Cart.RemoveItem)

		order := api.Group("/order", auth)
		ownerOrAdmin := middleware.RequireOwnerOrRole("userId", model.RoleAdmin)
		order.GET("", admin, cached, h.Order.ListAll)
		order.POST("/:userId", ownerOrAdmin, h.Order.Checkout)
		order.GET("/:userId", ownerOrAdmin, cached, h.Order.ListForUser)
		order.GET("/:userId/:orderId", ownerOrAdmin, cached, h.Order.GetForUser)
	}

	return router
}
