package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/service"
)

type AuthHandler struct {
	authService  *service.AuthService
	userService  *service.UserService
	resetService *service.PasswordResetService
}

func NewAuthHandler(authService *service.AuthService, userService *service.UserService, resetService *service.PasswordResetService) *AuthHandler {
	return &AuthHandler{authService: authService, userService: userService, resetService: resetService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) UpdateUser(c *gin.Context) {
	var req dto.UpdateUserRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.userService.Update(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) DeleteUser(c *gin.Context) {
	if err := h.userService.Delete(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("user deleted"))
}

func (h *AuthHandler) Protected(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "welcome, admin",
		"user_id": middleware.GetUserID(c),
		"email":   middleware.GetUserEmail(c),
	})
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.resetService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("if the email is registered, a reset code has been sent"))
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req dto.VerifyOTPRequest
	if !bind(c, &req) {
		return
	}
	if err := h.resetService.VerifyOTP(c.Request.Context(), req.Email, req.OTP); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("otp verified"))
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := h.resetService.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Message("password has been reset"))
}
