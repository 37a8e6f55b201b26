package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/utils"
)

func registerRequest(identifier string) SendOTPRequest {
	return SendOTPRequest{
		Identifier: identifier,
		Purpose:    models.OTPPurposeRegistration,
		FirstName:  "Asha",
		LastName:   "Rao",
	}
}

func TestSendEmailOTP(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	res, err := f.svc.Send(ctx, registerRequest("  Asha@Example.COM "))
	require.NoError(t, err)

	assert.Equal(t, models.OTPChannelEmail, res.Type)
	assert.Equal(t, "asha@example.com", res.Identifier)
	assert.Len(t, res.DevOTP, otpDigits)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "asha@example.com", sent[0].To)
	assert.Contains(t, sent[0].HTML, res.DevOTP)

	var record models.OTPRecord
	require.NoError(t, f.db.First(&record, "identifier = ?", "asha@example.com").Error)
	assert.False(t, record.Verified)
	assert.NotEqual(t, res.DevOTP, record.CodeHash)
	assert.True(t, utils.CheckCode(record.CodeHash, res.DevOTP))
	require.NotNil(t, record.TempUserData)
	assert.Equal(t, "Asha", record.TempUserData.FirstName)
}

func TestSendWithinCooldownIsRateLimited(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.svc.Send(ctx, registerRequest("A@example.com"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.RateLimited))

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 40*time.Second, appErr.RetryAfter)

	f.clock.Advance(41 * time.Second)
	_, err = f.svc.Send(ctx, registerRequest("a@example.com"))
	assert.NoError(t, err)
}

func TestSendWhileLockedIsRateLimited(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	ok, err := f.svc.guard.CheckAndSet(ctx, lockKey("a@example.com"), f.cfg.OTP.LockTTL)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Send(ctx, registerRequest("a@example.com"))
	assert.True(t, apperr.Is(err, apperr.RateLimited))
	assert.Empty(t, f.mailer.Sent())

	f.clock.Advance(f.cfg.OTP.LockTTL + time.Second)
	_, err = f.svc.Send(ctx, registerRequest("a@example.com"))
	assert.NoError(t, err, "lock expires on its own")
}

func TestSendEmailWithoutMailerIsUnavailable(t *testing.T) {
	f := newOTPFixture(t)
	f.mailer.configured = false

	_, err := f.svc.Send(context.Background(), registerRequest("a@example.com"))
	assert.True(t, apperr.Is(err, apperr.Unavailable))

	f.mailer.configured = true
	_, err = f.svc.Send(context.Background(), registerRequest("a@example.com"))
	assert.NoError(t, err, "a refused send does not start the cooldown")
}

func TestSendDeliveryFailureKeepsRecord(t *testing.T) {
	f := newOTPFixture(t)
	f.mailer.err = errors.New("smtp down")
	ctx := context.Background()

	res, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unavailable))
	require.NotNil(t, res)

	out, err := f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: res.DevOTP})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", out.User.Email)
}

func TestSendLocalSMSInDevelopment(t *testing.T) {
	f := newOTPFixture(t)

	res, err := f.svc.Send(context.Background(), registerRequest("98765 43210"))
	require.NoError(t, err)

	assert.Equal(t, models.OTPChannelSMS, res.Type)
	assert.Equal(t, "+919876543210", res.Identifier)
	assert.NotEmpty(t, res.DevOTP)
	assert.Empty(t, f.mailer.Sent())
}

func TestSendSMSUnconfiguredInProduction(t *testing.T) {
	f := newOTPFixture(t)
	f.cfg.Environment = "production"

	_, err := f.svc.Send(context.Background(), registerRequest("+919876543210"))
	assert.True(t, apperr.Is(err, apperr.Unavailable))
}

func TestSendTwilioFailureFallsBackToLocal(t *testing.T) {
	f := newOTPFixture(t)
	f.sms.configured = true
	f.sms.startErr = errors.New("twilio down")

	res, err := f.svc.Send(context.Background(), registerRequest("+919876543210"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.DevOTP)

	var record models.OTPRecord
	require.NoError(t, f.db.First(&record, "identifier = ?", "+919876543210").Error)
	assert.Equal(t, models.OTPProviderLocal, record.Provider)
}

func TestSendHardcodedCodeOutsideProduction(t *testing.T) {
	f := newOTPFixture(t)
	f.cfg.OTP.Hardcoded = "424242"

	res, err := f.svc.Send(context.Background(), registerRequest("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "424242", res.DevOTP)
}

func TestSendNoDevOTPInProduction(t *testing.T) {
	f := newOTPFixture(t)
	f.cfg.Environment = "production"
	f.cfg.OTP.Hardcoded = "424242"

	res, err := f.svc.Send(context.Background(), registerRequest("a@example.com"))
	require.NoError(t, err)
	assert.Empty(t, res.DevOTP)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.NotContains(t, sent[0].HTML, "424242")
}

func TestSendRegistrationForActiveUserConflicts(t *testing.T) {
	f := newOTPFixture(t)
	require.NoError(t, f.db.Create(&models.User{Email: "a@example.com", Role: models.RoleCustomer, Status: models.UserStatusActive}).Error)

	_, err := f.svc.Send(context.Background(), registerRequest("a@example.com"))
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestSendLoginRequiresAccount(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendOTPRequest{Identifier: "nobody@example.com", Purpose: models.OTPPurposeLogin})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	require.NoError(t, f.db.Create(&models.User{Email: "banned@example.com", Role: models.RoleCustomer, Status: models.UserStatusSuspended}).Error)
	_, err = f.svc.Send(ctx, SendOTPRequest{Identifier: "banned@example.com", Purpose: models.OTPPurposeLogin})
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestSendRejectsBadIdentifier(t *testing.T) {
	f := newOTPFixture(t)

	for _, id := range []string{"", "bad@", "12"} {
		_, err := f.svc.Send(context.Background(), registerRequest(id))
		assert.True(t, apperr.Is(err, apperr.Validation), id)
	}
}

func TestVerifyWithoutRecordIsNotFound(t *testing.T) {
	f := newOTPFixture(t)

	_, err := f.svc.Verify(context.Background(), VerifyOTPRequest{Identifier: "a@example.com", Code: "123456"})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestVerifyExpiredDeletesRecord(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	res, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute + time.Second)
	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: res.DevOTP})
	assert.True(t, apperr.Is(err, apperr.Expired))

	var count int64
	f.db.Model(&models.OTPRecord{}).Count(&count)
	assert.Zero(t, count)

	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: res.DevOTP})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestVerifyMismatchThenSuccess(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	res, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.NoError(t, err)

	wrong := "000000"
	if res.DevOTP == wrong {
		wrong = "111111"
	}
	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: wrong})
	assert.True(t, apperr.Is(err, apperr.Mismatch))

	var record models.OTPRecord
	require.NoError(t, f.db.First(&record, "identifier = ?", "a@example.com").Error)
	assert.Equal(t, 1, record.Attempts)
	assert.False(t, record.Verified)

	out, err := f.svc.Verify(ctx, VerifyOTPRequest{
		Identifier: "a@example.com",
		Code:       res.DevOTP,
		Meta:       SessionMeta{UserAgent: "test", IPAddress: "127.0.0.1"},
	})
	require.NoError(t, err)

	assert.True(t, out.NewAccount)
	assert.Equal(t, models.UserStatusActive, out.User.Status)
	assert.True(t, out.User.EmailVerified)
	assert.Equal(t, "Asha", out.User.FirstName)
	require.NotNil(t, out.Session)
	assert.NotEmpty(t, out.Session.Token)
	assert.NotEmpty(t, out.Session.AccessToken)
	assert.Equal(t, f.clock.Now().Add(f.cfg.SessionTTL), out.Session.ExpiresAt)

	var count int64
	f.db.Model(&models.OTPRecord{}).Count(&count)
	assert.Zero(t, count, "record is consumed")

	assert.Contains(t, f.events.Types(), EventUserRegistered)
}

func TestVerifyTooManyAttempts(t *testing.T) {
	f := newOTPFixture(t)
	f.cfg.OTP.MaxAttempts = 2
	ctx := context.Background()

	res, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: "x"})
		require.True(t, apperr.Is(err, apperr.Mismatch))
	}

	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: res.DevOTP})
	assert.True(t, apperr.Is(err, apperr.RateLimited))
}

func TestVerifyMobileCreatesPlaceholderUser(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	hash, err := utils.HashCode("246810")
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.OTPRecord{
		Identifier: "+919876543210",
		Channel:    models.OTPChannelSMS,
		Purpose:    models.OTPPurposeRegistration,
		Provider:   models.OTPProviderLocal,
		CodeHash:   hash,
		ExpiresAt:  f.clock.Now().Add(time.Minute),
	}).Error)

	out, err := f.svc.Verify(ctx, VerifyOTPRequest{
		Identifier:       "98765 43210",
		Code:             "246810",
		Mobile:           true,
		RegistrationData: &models.TempUserData{FirstName: "Ravi", IsFoundingMember: true, FoundingMemberPlan: "lifetime"},
	})
	require.NoError(t, err)

	assert.Equal(t, "+919876543210", out.User.Phone)
	assert.True(t, out.User.HasPlaceholderEmail())
	assert.True(t, out.User.MobileVerified)
	assert.True(t, out.User.IsFoundingMember)
	assert.Equal(t, "Ravi", out.User.FirstName)
	assert.Equal(t, f.clock.Now().Add(f.cfg.MobileSessionTTL), out.Session.ExpiresAt)
}

func TestVerifyActivatesPendingUser(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	pending := models.User{Email: "a@example.com", Role: models.RoleCustomer, Status: models.UserStatusPending}
	require.NoError(t, f.db.Create(&pending).Error)

	res, err := f.svc.Send(ctx, SendOTPRequest{Identifier: "a@example.com", Purpose: models.OTPPurposeLogin})
	require.NoError(t, err)

	out, err := f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: res.DevOTP})
	require.NoError(t, err)

	assert.False(t, out.NewAccount)
	assert.Equal(t, pending.ID, out.User.ID)
	assert.Equal(t, models.UserStatusActive, out.User.Status)

	var loaded models.User
	require.NoError(t, f.db.First(&loaded, "id = ?", pending.ID).Error)
	assert.Equal(t, models.UserStatusActive, loaded.Status)
	assert.NotNil(t, loaded.LastLoginAt)
}

func TestVerifySuspendedUserIsForbidden(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	res, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.User{Email: "a@example.com", Role: models.RoleCustomer, Status: models.UserStatusSuspended}).Error)

	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "a@example.com", Code: res.DevOTP})
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestVerifyPrefersProvider(t *testing.T) {
	f := newOTPFixture(t)
	f.sms.configured = true
	ctx := context.Background()

	_, err := f.svc.Send(ctx, registerRequest("+919876543210"))
	require.NoError(t, err)
	assert.Equal(t, []string{"+919876543210"}, f.sms.started)

	f.sms.outcome = VerifyDeclined
	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "+919876543210", Code: "999999"})
	assert.True(t, apperr.Is(err, apperr.Mismatch))

	f.sms.outcome = VerifyApproved
	out, err := f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "+919876543210", Code: "999999"})
	require.NoError(t, err)
	assert.True(t, out.User.MobileVerified)
}

func TestVerifyFallsBackWhenProviderUnavailable(t *testing.T) {
	f := newOTPFixture(t)
	f.sms.configured = true
	f.cfg.OTP.Hardcoded = "135790"
	ctx := context.Background()

	_, err := f.svc.Send(ctx, registerRequest("+919876543210"))
	require.NoError(t, err)

	f.sms.outcome = VerifyProviderUnavailable
	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "+919876543210", Code: "000000"})
	assert.True(t, apperr.Is(err, apperr.Mismatch))

	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "+919876543210", Code: "135790"})
	assert.NoError(t, err)
}

func TestVerifyProviderUnavailableInProduction(t *testing.T) {
	f := newOTPFixture(t)
	f.cfg.Environment = "production"
	f.sms.configured = true
	ctx := context.Background()

	_, err := f.svc.Send(ctx, registerRequest("+919876543210"))
	require.NoError(t, err)

	f.sms.outcome = VerifyProviderUnavailable
	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "+919876543210", Code: "123456"})
	assert.True(t, apperr.Is(err, apperr.Unavailable), "got %v", err)

	var record models.OTPRecord
	require.NoError(t, f.db.First(&record, "identifier = ?", "+919876543210").Error)
	assert.Zero(t, record.Attempts)
	assert.False(t, record.Verified)

	f.sms.outcome = VerifyApproved
	_, err = f.svc.Verify(ctx, VerifyOTPRequest{Identifier: "+919876543210", Code: "123456"})
	assert.NoError(t, err)
}

func TestPruneExpiredOTPs(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, registerRequest("a@example.com"))
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, registerRequest("b@example.com"))
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	n, err := f.svc.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
