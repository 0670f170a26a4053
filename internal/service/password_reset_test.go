package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/storefront-api/internal/testutil"
)

type resetFixture struct {
	store *testutil.Store
	mail  *testutil.MailQueue
	svc   *PasswordResetService
	now   time.Time
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		store: testutil.NewStore(),
		mail:  &testutil.MailQueue{},
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewPasswordResetService(f.store, f.store.Users(), f.store.OTPs(), f.mail, 10*time.Minute, log)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *resetFixture) issuedCode(t *testing.T, email string) string {
	t.Helper()
	otp, err := f.store.OTPs().Get(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, otp)
	return otp.Code
}

func TestPasswordReset_FullFlow(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	seedUserWithPassword(t, f.store, "frank@example.com", "oldpassword")

	require.NoError(t, f.svc.ForgotPassword(ctx, "Frank@example.com"))

	jobs := f.mail.Jobs()
	require.Len(t, jobs, 1)
	code := f.issuedCode(t, "frank@example.com")
	assert.Len(t, code, 6)
	assert.Equal(t, "frank@example.com", jobs[0].To)
	assert.Contains(t, jobs[0].Body, code)

	// Verification alone leaves the code usable.
	require.NoError(t, f.svc.VerifyOTP(ctx, "frank@example.com", code))
	require.NoError(t, f.svc.VerifyOTP(ctx, "frank@example.com", code))

	require.NoError(t, f.svc.ResetPassword(ctx, "frank@example.com", code, "newpassword"))

	user, err := f.store.Users().GetByEmail(ctx, "frank@example.com")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("newpassword")))

	err = f.svc.ResetPassword(ctx, "frank@example.com", code, "another-one")
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestPasswordReset_UnknownEmailLooksTheSame(t *testing.T) {
	f := newResetFixture(t)
	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ghost@example.com"))
	assert.Empty(t, f.mail.Jobs())
}

func TestPasswordReset_WrongOrExpiredCode(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	seedUserWithPassword(t, f.store, "gina@example.com", "oldpassword")
	require.NoError(t, f.svc.ForgotPassword(ctx, "gina@example.com"))
	code := f.issuedCode(t, "gina@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, f.svc.VerifyOTP(ctx, "gina@example.com", wrong), ErrInvalidOTP)
	assert.ErrorIs(t, f.svc.VerifyOTP(ctx, "nobody@example.com", code), ErrInvalidOTP)

	f.now = f.now.Add(10 * time.Minute)
	assert.ErrorIs(t, f.svc.VerifyOTP(ctx, "gina@example.com", code), ErrInvalidOTP)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "gina@example.com", code, "newpassword"), ErrInvalidOTP)

	n, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGenerateOTP_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
