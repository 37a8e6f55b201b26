package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/guard"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/utils"
)

const otpDigits = 6

// SendOTPRequest asks for a code to be delivered to an email address or phone number.
type SendOTPRequest struct {
	Identifier         string
	Purpose            string
	FirstName          string
	LastName           string
	IsFoundingMember   bool
	FoundingMemberPlan string
}

// SendOTPResult describes a delivered code.
type SendOTPResult struct {
	Type       string    `json:"type"`
	Identifier string    `json:"identifier"`
	Purpose    string    `json:"purpose"`
	ExpiresAt  time.Time `json:"expiresAt"`
	// DevOTP is only populated outside production for locally generated codes.
	DevOTP string `json:"devOtp,omitempty"`
}

// VerifyOTPRequest checks a code. RegistrationData is used when the stored record carries no payload.
type VerifyOTPRequest struct {
	Identifier       string
	Code             string
	RegistrationData *models.TempUserData
	Mobile           bool
	Meta             SessionMeta
}

// VerifyOTPResult is a verified identity with its new session.
type VerifyOTPResult struct {
	User       *models.User
	Session    *IssuedSession
	NewAccount bool
}

// OTPService issues and verifies one-time codes and turns them into sessions.
type OTPService struct {
	db       *gorm.DB
	cfg      *config.Config
	guard    guard.Guard
	mailer   Mailer
	sms      SMSVerifier
	sessions *SessionService
	events   EventPublisher
	now      func() time.Time
}

// NewOTPService constructs OTPService. mailer, sms and events may be nil.
func NewOTPService(db *gorm.DB, cfg *config.Config, g guard.Guard, mailer Mailer, sms SMSVerifier, sessions *SessionService, events EventPublisher) *OTPService {
	return &OTPService{
		db:       db,
		cfg:      cfg,
		guard:    g,
		mailer:   mailer,
		sms:      sms,
		sessions: sessions,
		events:   events,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *OTPService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *OTPService) mailConfigured() bool {
	return s.mailer != nil && s.mailer.Configured()
}

func (s *OTPService) smsConfigured() bool {
	return s.sms != nil && s.sms.Configured()
}

func lockKey(identifier string) string     { return "otp:lock:" + identifier }
func cooldownKey(identifier string) string { return "otp:cooldown:" + identifier }

// Send generates, stores and delivers a code for req.Identifier.
func (s *OTPService) Send(ctx context.Context, req SendOTPRequest) (*SendOTPResult, error) {
	identifier, channel, err := normalizeIdentifier(req.Identifier, s.cfg.DefaultRegion)
	if err != nil {
		return nil, err
	}

	purpose := req.Purpose
	if purpose != models.OTPPurposeLogin {
		purpose = models.OTPPurposeRegistration
	}

	locked, err := s.guard.CheckAndSet(ctx, lockKey(identifier), s.cfg.OTP.LockTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to acquire send lock", err)
	}
	if !locked {
		return nil, apperr.RateLimit("A code is already being sent. Please wait.", s.cfg.OTP.LockTTL)
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), lockKey(identifier)); err != nil {
			log.Printf("[OTP] failed to release lock for %s: %v", identifier, err)
		}
	}()

	ok, err := s.guard.CheckAndSet(ctx, cooldownKey(identifier), s.cfg.OTP.Cooldown)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to check cooldown", err)
	}
	if !ok {
		left, _ := s.guard.Remaining(ctx, cooldownKey(identifier))
		if left <= 0 {
			left = s.cfg.OTP.Cooldown
		}
		return nil, apperr.RateLimit("Please wait before requesting another code.", left)
	}

	sent := false
	defer func() {
		if sent {
			return
		}
		if err := s.guard.Release(context.WithoutCancel(ctx), cooldownKey(identifier)); err != nil {
			log.Printf("[OTP] failed to release cooldown for %s: %v", identifier, err)
		}
	}()

	user, err := s.findUser(ctx, identifier, channel)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to look up user", err)
	}

	switch purpose {
	case models.OTPPurposeRegistration:
		if user != nil && user.Status == models.UserStatusActive {
			return nil, apperr.New(apperr.Conflict, "An account already exists. Please log in.")
		}
	case models.OTPPurposeLogin:
		if user == nil {
			return nil, apperr.New(apperr.NotFound, "No account found. Please register first.")
		}
		if user.Status == models.UserStatusSuspended {
			return nil, apperr.New(apperr.Forbidden, "Your account has been suspended. Please contact support.")
		}
	}

	provider := models.OTPProviderLocal
	switch channel {
	case models.OTPChannelEmail:
		if !s.mailConfigured() {
			return nil, apperr.New(apperr.Unavailable, "Email service is not configured.")
		}
	case models.OTPChannelSMS:
		if s.smsConfigured() {
			provider = models.OTPProviderTwilio
		} else if s.cfg.IsProduction() {
			return nil, apperr.New(apperr.Unavailable, "SMS service is not configured.")
		}
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to generate code", err)
	}
	hash, err := utils.HashCode(code)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to hash code", err)
	}

	record := models.OTPRecord{
		Identifier: identifier,
		Channel:    channel,
		Purpose:    purpose,
		Provider:   provider,
		CodeHash:   hash,
		ExpiresAt:  s.now().Add(s.cfg.OTP.TTL),
	}
	if user != nil {
		record.UserID = &user.ID
	}
	if purpose == models.OTPPurposeRegistration {
		record.TempUserData = s.tempUserData(req, identifier, channel)
	}

	if err := s.store(ctx, &record); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to store code", err)
	}

	deliveryErr := s.deliver(ctx, &record, code, req.FirstName)
	if deliveryErr != nil {
		log.Printf("[OTP] delivery to %s failed: %v", identifier, deliveryErr)
	}

	// The record is kept even when delivery fails so the code stays verifiable.
	failed := deliveryErr != nil && (channel == models.OTPChannelEmail || s.cfg.IsProduction())
	sent = !failed

	result := &SendOTPResult{
		Type:       channel,
		Identifier: identifier,
		Purpose:    purpose,
		ExpiresAt:  record.ExpiresAt,
	}
	if !s.cfg.IsProduction() && record.Provider == models.OTPProviderLocal {
		result.DevOTP = code
	}

	if failed {
		return result, apperr.Wrap(apperr.Unavailable, "Failed to deliver verification code.", deliveryErr)
	}
	return result, nil
}

func (s *OTPService) generateCode() (string, error) {
	if !s.cfg.IsProduction() && s.cfg.OTP.Hardcoded != "" {
		return s.cfg.OTP.Hardcoded, nil
	}
	return utils.GenerateNumericCode(otpDigits)
}

func (s *OTPService) tempUserData(req SendOTPRequest, identifier, channel string) *models.TempUserData {
	data := &models.TempUserData{
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		IsFoundingMember:   req.IsFoundingMember,
		FoundingMemberPlan: req.FoundingMemberPlan,
	}
	if channel == models.OTPChannelEmail {
		data.Email = identifier
	} else {
		data.Phone = identifier
	}
	return data
}

// store replaces any outstanding record for the identifier.
func (s *OTPService) store(ctx context.Context, record *models.OTPRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("identifier = ?", record.Identifier).Delete(&models.OTPRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (s *OTPService) deliver(ctx context.Context, record *models.OTPRecord, code, name string) error {
	switch record.Channel {
	case models.OTPChannelEmail:
		msg, err := RenderOTPEmail(record.Identifier, OTPEmailData{
			Name:             strings.TrimSpace(name),
			Code:             code,
			ExpiresInMinutes: int(s.cfg.OTP.TTL / time.Minute),
		})
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, msg)

	case models.OTPChannelSMS:
		if record.Provider != models.OTPProviderTwilio {
			if !s.cfg.IsProduction() {
				log.Printf("[OTP] local code for %s: %s", record.Identifier, code)
			}
			return nil
		}
		if err := s.sms.Start(ctx, record.Identifier); err != nil {
			record.Provider = models.OTPProviderLocal
			if uerr := s.db.WithContext(ctx).Model(record).Update("provider", models.OTPProviderLocal).Error; uerr != nil {
				log.Printf("[OTP] failed to switch %s to local provider: %v", record.Identifier, uerr)
			}
			return err
		}
	}
	return nil
}

// Verify checks code for identifier and issues a session on success.
func (s *OTPService) Verify(ctx context.Context, req VerifyOTPRequest) (*VerifyOTPResult, error) {
	identifier, channel, err := normalizeIdentifier(req.Identifier, s.cfg.DefaultRegion)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apperr.New(apperr.Validation, "verification code is required")
	}

	db := s.db.WithContext(ctx)

	var record models.OTPRecord
	if err := db.Where("identifier = ?", identifier).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "No verification code found. Please request a new one.")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load code", err)
	}

	if record.Expired(s.now()) {
		s.consume(ctx, &record)
		return nil, apperr.New(apperr.Expired, "Verification code has expired. Please request a new one.")
	}

	if s.cfg.OTP.MaxAttempts > 0 && record.Attempts >= s.cfg.OTP.MaxAttempts {
		s.consume(ctx, &record)
		return nil, apperr.RateLimit("Too many failed attempts. Please request a new code.", 0)
	}

	ok, err := s.checkCode(ctx, &record, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := db.Model(&record).UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error; err != nil {
			log.Printf("[OTP] failed to count attempt for %s: %v", identifier, err)
		}
		return nil, apperr.New(apperr.Mismatch, "Invalid verification code.")
	}

	if err := db.Model(&record).Update("verified", true).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to mark code verified", err)
	}

	payload := record.TempUserData
	if payload == nil {
		payload = req.RegistrationData
	}

	user, created, err := s.resolveUser(ctx, identifier, channel, payload)
	if err != nil {
		return nil, err
	}
	s.consume(ctx, &record)

	switch user.Status {
	case models.UserStatusSuspended:
		return nil, apperr.New(apperr.Forbidden, "Your account has been suspended. Please contact support.")
	case models.UserStatusActive:
	default:
		return nil, apperr.New(apperr.Forbidden, "Your account is not active. Please contact support.")
	}

	ttl := s.cfg.SessionTTL
	if req.Mobile {
		ttl = s.cfg.MobileSessionTTL
	}
	issued, err := s.sessions.Create(ctx, user, ttl, req.Meta)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := db.Model(user).Update("last_login_at", now).Error; err != nil {
		log.Printf("[OTP] failed to record login for %s: %v", user.ID, err)
	}
	user.LastLoginAt = &now

	if created {
		publish(ctx, s.events, EventUserRegistered, user.ID.String(), newUserEvent(user))
	}

	return &VerifyOTPResult{User: user, Session: issued, NewAccount: created}, nil
}

// checkCode prefers the external provider. The user only ever received the
// provider's code, so the stored hash is a fallback outside production only.
func (s *OTPService) checkCode(ctx context.Context, record *models.OTPRecord, code string) (bool, error) {
	if record.Provider == models.OTPProviderTwilio {
		var err error
		if s.smsConfigured() {
			var outcome VerifyOutcome
			outcome, err = s.sms.Check(ctx, record.Identifier, code)
			switch outcome {
			case VerifyApproved:
				return true, nil
			case VerifyDeclined:
				return false, nil
			}
		}
		if s.cfg.IsProduction() {
			return false, apperr.Wrap(apperr.Unavailable, "Verification service is unavailable. Please try again.", err)
		}
		log.Printf("[OTP] provider unavailable for %s, using local record: %v", record.Identifier, err)
	}
	return utils.CheckCode(record.CodeHash, code), nil
}

func (s *OTPService) consume(ctx context.Context, record *models.OTPRecord) {
	if err := s.db.WithContext(ctx).Unscoped().Delete(record).Error; err != nil {
		log.Printf("[OTP] failed to delete code for %s: %v", record.Identifier, err)
	}
}

func (s *OTPService) findUser(ctx context.Context, identifier, channel string) (*models.User, error) {
	column := "email"
	if channel == models.OTPChannelSMS {
		column = "phone"
	}

	var user models.User
	err := s.db.WithContext(ctx).Where(column+" = ?", identifier).Order("created_at asc").First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// resolveUser finds or materializes the user behind a verified identifier and activates it.
func (s *OTPService) resolveUser(ctx context.Context, identifier, channel string, payload *models.TempUserData) (*models.User, bool, error) {
	user, err := s.findUser(ctx, identifier, channel)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "failed to look up user", err)
	}

	created := false
	if user == nil {
		user, err = s.createUser(ctx, identifier, channel, payload)
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// Another request created the same account; activate that one.
			user, err = s.findByPayloadEmail(ctx, identifier, channel, payload)
			if err != nil {
				return nil, false, apperr.Wrap(apperr.Internal, "failed to load existing user", err)
			}
			if user == nil {
				return nil, false, apperr.New(apperr.NotFound, "User account not found.")
			}
		case err != nil:
			return nil, false, apperr.Wrap(apperr.Internal, "failed to create user", err)
		default:
			created = true
		}
	}

	updates := map[string]any{}
	if channel == models.OTPChannelEmail {
		updates["email_verified"] = true
		user.EmailVerified = true
	} else {
		updates["mobile_verified"] = true
		user.MobileVerified = true
	}
	if user.Status == models.UserStatusPending {
		updates["status"] = models.UserStatusActive
		user.Status = models.UserStatusActive
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "failed to activate user", err)
	}
	return user, created, nil
}

func (s *OTPService) createUser(ctx context.Context, identifier, channel string, payload *models.TempUserData) (*models.User, error) {
	user := models.User{
		Role:   models.RoleCustomer,
		Status: models.UserStatusPending,
	}
	if payload != nil {
		user.FirstName = payload.FirstName
		user.LastName = payload.LastName
		if payload.IsFoundingMember {
			now := s.now()
			user.IsFoundingMember = true
			user.FoundingMemberPlan = payload.FoundingMemberPlan
			user.FoundingMemberSince = &now
		}
	}

	if channel == models.OTPChannelEmail {
		user.Email = identifier
		if payload != nil && payload.Phone != "" {
			if phone, err := utils.NormalizePhone(payload.Phone, s.cfg.DefaultRegion); err == nil {
				user.Phone = phone
			}
		}
	} else {
		user.Phone = identifier
		user.Email = placeholderEmail(identifier)
		if payload != nil && payload.Email != "" {
			user.Email = strings.ToLower(strings.TrimSpace(payload.Email))
		}
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	log.Printf("[OTP] created user %s for %s", user.ID, identifier)
	return &user, nil
}

func (s *OTPService) findByPayloadEmail(ctx context.Context, identifier, channel string, payload *models.TempUserData) (*models.User, error) {
	email := identifier
	if channel == models.OTPChannelSMS {
		email = placeholderEmail(identifier)
		if payload != nil && payload.Email != "" {
			email = strings.ToLower(strings.TrimSpace(payload.Email))
		}
	}
	return s.findUser(ctx, email, models.OTPChannelEmail)
}

func placeholderEmail(phone string) string {
	return utils.PhoneDigits(phone) + "@" + models.PlaceholderEmailDomain
}

type userEvent struct {
	UserID           string `json:"userId"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	IsFoundingMember bool   `json:"isFoundingMember"`
}

func newUserEvent(u *models.User) userEvent {
	ev := userEvent{UserID: u.ID.String(), Phone: u.Phone, IsFoundingMember: u.IsFoundingMember}
	if !u.HasPlaceholderEmail() {
		ev.Email = u.Email
	}
	return ev
}

// PruneExpired deletes codes past their expiry.
func (s *OTPService) PruneExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Unscoped().Where("expires_at < ?", s.now()).Delete(&models.OTPRecord{})
	return res.RowsAffected, res.Error
}
