package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/storefront-api/internal/apperror"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

var ErrInvalidOTP = apperror.BadRequest("invalid or expired OTP")

const otpDigits = 6

type PasswordResetService struct {
	tx    repository.Transactor
	users repository.UserRepository
	otps  repository.OTPRepository
	mail  MailQueue
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

func NewPasswordResetService(
	tx repository.Transactor,
	users repository.UserRepository,
	otps repository.OTPRepository,
	mail MailQueue,
	ttl time.Duration,
	log *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{tx: tx, users: users, otps: otps, mail: mail, ttl: ttl, log: log, now: time.Now}
}

// ForgotPassword issues a fresh code and queues it for delivery. Unknown
// emails get the same outcome as known ones.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		s.log.Info("password reset requested for unknown email")
		return nil
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}
	otp := &model.OTPCode{Email: email, Code: code, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.otps.Upsert(ctx, otp); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	job := model.MailJob{
		ID:      uuid.New(),
		To:      email,
		Subject: "Your password reset code",
		Body: fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.",
			code, int(s.ttl.Minutes())),
	}
	if err := s.mail.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue otp mail: %w", err)
	}
	return nil
}

// VerifyOTP checks the code without consuming it.
func (s *PasswordResetService) VerifyOTP(ctx context.Context, email, code string) error {
	_, err := s.verify(ctx, normalizeEmail(email), code)
	return err
}

// ResetPassword verifies and consumes the code, then stores the new hash.
func (s *PasswordResetService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.verify(ctx, email, code); err != nil {
			return err
		}
		if err := s.users.UpdatePasswordByEmail(ctx, email, string(hashed)); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("update password: %w", err)
		}
		if err := s.otps.Delete(ctx, email); err != nil {
			return fmt.Errorf("consume otp: %w", err)
		}
		return nil
	})
}

// PurgeExpired deletes codes past their expiry.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.otps.DeleteExpired(ctx, s.now())
}

func (s *PasswordResetService) verify(ctx context.Context, email, code string) (*model.OTPCode, error) {
	otp, err := s.otps.Get(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get otp: %w", err)
	}
	if otp == nil || otp.Expired(s.now()) {
		return nil, ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
		return nil, ErrInvalidOTP
	}
	return otp, nil
}

func generateOTP() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
