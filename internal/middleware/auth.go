package middleware

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/token"
)

const (
	ctxUserID    = "userID"
	ctxUserEmail = "userEmail"
	ctxUserRole  = "userRole"
)

var (
	ErrMissingToken = apperror.Unauthorized("authorization token required")
	ErrInvalidToken = apperror.Forbidden("invalid or expired token")
	ErrUserNotFound = apperror.NotFound("user not found")
	ErrNotOwner     = apperror.Forbidden("access denied: not the resource owner")
	ErrRoleDenied   = apperror.Forbidden("access denied: insufficient role")
)

type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Authenticate resolves the bearer token to a stored user.
func Authenticate(verifier TokenVerifier, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, ErrMissingToken)
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(raw))
		if err != nil {
			if errors.Is(err, token.ErrInvalidToken) {
				abort(c, ErrInvalidToken)
				return
			}
			abort(c, err)
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			abort(c, err)
			return
		}
		if user == nil {
			abort(c, ErrUserNotFound)
			return
		}

		c.Set(ctxUserID, user.ID)
		c.Set(ctxUserEmail, user.Email)
		c.Set(ctxUserRole, user.Role)
		c.Next()
	}
}

// RequireOwner passes when the authenticated user's id equals the path param.
func RequireOwner(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isOwner(c, param) {
			abort(c, ErrNotOwner)
			return
		}
		c.Next()
	}
}

func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, GetUserRole(c)) {
			abort(c, ErrRoleDenied)
			return
		}
		c.Next()
	}
}

// RequireOwnerOrRole passes on either ownership of param or one of roles.
func RequireOwnerOrRole(param string, roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isOwner(c, param) || slices.Contains(roles, GetUserRole(c)) {
			c.Next()
			return
		}
		abort(c, ErrNotOwner)
	}
}

func isOwner(c *gin.Context, param string) bool {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return false
	}
	uid := GetUserID(c)
	return uid != uuid.Nil && uid == id
}

func GetUserID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ctxUserID)
	uid, _ := id.(uuid.UUID)
	return uid
}

func GetUserEmail(c *gin.Context) string {
	email, _ := c.Get(ctxUserEmail)
	e, _ := email.(string)
	return e
}

func GetUserRole(c *gin.Context) model.Role {
	role, _ := c.Get(ctxUserRole)
	r, _ := role.(model.Role)
	return r
}

func GetPrincipal(c *gin.Context) model.Principal {
	return model.Principal{UserID: GetUserID(c), Role: GetUserRole(c)}
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
