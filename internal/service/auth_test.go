package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/testutil"
	"github.com/flicky/storefront-api/internal/token"
)

func newAuthService(store *testutil.Store) (*AuthService, *token.Manager) {
	tokens := token.NewManager("test-secret", time.Hour)
	return NewAuthService(store.Users(), tokens), tokens
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	store := testutil.NewStore()
	svc, tokens := newAuthService(store)
	ctx := context.Background()

	reg, err := svc.Register(ctx, dto.RegisterRequest{Email: " Alice@Example.com ", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", reg.User.Email)
	assert.Equal(t, model.RoleCustomer, reg.User.Role)

	claims, err := tokens.Verify(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	login, err := svc.Login(ctx, dto.LoginRequest{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.NotEmpty(t, login.Token)
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	svc, _ := newAuthService(testutil.NewStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Email: "bob@example.com", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, dto.RegisterRequest{Email: "BOB@example.com", Password: "password456"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	svc, _ := newAuthService(testutil.NewStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Email: "carol@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "carol@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func seedUserWithPassword(t *testing.T, store *testutil.Store, email, password string) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return store.SeedUser(model.User{Email: email, PasswordHash: string(hash)})
}

func TestUserService_Update(t *testing.T) {
	store := testutil.NewStore()
	svc := NewUserService(store.Users())
	ctx := context.Background()
	user := seedUserWithPassword(t, store, "dave@example.com", "password123")
	store.SeedUser(model.User{Email: "taken@example.com"})

	newEmail := "dave2@example.com"
	newPassword := "newpassword1"

	_, err := svc.Update(ctx, user.ID, dto.UpdateUserRequest{CurrentPassword: "nope", Email: &newEmail})
	assert.ErrorIs(t, err, ErrWrongCurrentPassword)

	taken := "taken@example.com"
	_, err = svc.Update(ctx, user.ID, dto.UpdateUserRequest{CurrentPassword: "password123", Email: &taken})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	resp, err := svc.Update(ctx, user.ID, dto.UpdateUserRequest{
		CurrentPassword: "password123",
		Email:           &newEmail,
		NewPassword:     &newPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, newEmail, resp.Email)

	stored, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(newPassword)))
}

func TestUserService_Delete(t *testing.T) {
	store := testutil.NewStore()
	svc := NewUserService(store.Users())
	ctx := context.Background()
	user := store.SeedUser(model.User{Email: "erin@example.com"})

	require.NoError(t, svc.Delete(ctx, user.ID))
	assert.ErrorIs(t, svc.Delete(ctx, user.ID), ErrUserNotFound)
}
