package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/middleware"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/services"
)

// AuthHandler bundles dependencies for the passwordless login endpoints.
type AuthHandler struct {
	db       *gorm.DB
	cfg      *config.Config
	otp      *services.OTPService
	sessions *services.SessionService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, otp *services.OTPService, sessions *services.SessionService) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, otp: otp, sessions: sessions}
}

type sendOTPRequest struct {
	Email              string `json:"email"`
	Mobile             string `json:"mobile"`
	EmailOrPhone       string `json:"emailOrPhone"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	IsFoundingMember   bool   `json:"isFoundingMember"`
	FoundingMemberPlan string `json:"foundingMemberPlan"`
}

// SendOTP delivers a registration code for {email|mobile} or a login code for {emailOrPhone}.
func (h *AuthHandler) SendOTP(c *fiber.Ctx) error {
	var req sendOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	in := services.SendOTPRequest{
		Purpose:            models.OTPPurposeRegistration,
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		IsFoundingMember:   req.IsFoundingMember,
		FoundingMemberPlan: req.FoundingMemberPlan,
	}
	switch {
	case strings.TrimSpace(req.EmailOrPhone) != "":
		in.Identifier = req.EmailOrPhone
		in.Purpose = models.OTPPurposeLogin
	case strings.TrimSpace(req.Email) != "":
		in.Identifier = req.Email
	default:
		in.Identifier = req.Mobile
	}

	result, err := h.otp.Send(c.UserContext(), in)
	if err != nil {
		return err
	}

	resp := fiber.Map{
		"success":    true,
		"message":    "verification code sent",
		"type":       result.Type,
		"identifier": result.Identifier,
		"purpose":    result.Purpose,
		"expiresAt":  result.ExpiresAt,
	}
	if result.DevOTP != "" {
		resp["devOtp"] = result.DevOTP
	}
	return c.JSON(resp)
}

type verifyOTPRequest struct {
	Email            string               `json:"email"`
	Mobile           string               `json:"mobile"`
	EmailOrPhone     string               `json:"emailOrPhone"`
	OTP              string               `json:"otp"`
	RegistrationData *models.TempUserData `json:"registrationData"`
}

func (r verifyOTPRequest) identifier() string {
	for _, v := range []string{r.EmailOrPhone, r.Email, r.Mobile} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// VerifyOTP checks an email or phone code and starts a 30 day session.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	return h.verify(c, false)
}

// VerifyMobileOTP checks a code from the mobile app and starts a 7 day session.
func (h *AuthHandler) VerifyMobileOTP(c *fiber.Ctx) error {
	return h.verify(c, true)
}

func (h *AuthHandler) verify(c *fiber.Ctx, mobile bool) error {
	var req verifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.OTP) == "" {
		return apperr.New(apperr.Validation, "otp is required")
	}

	in := services.VerifyOTPRequest{
		Identifier: req.identifier(),
		Code:       strings.TrimSpace(req.OTP),
		Mobile:     mobile,
		Meta: services.SessionMeta{
			UserAgent: c.Get(fiber.HeaderUserAgent),
			IPAddress: c.IP(),
		},
	}
	if mobile {
		in.RegistrationData = req.RegistrationData
	}

	result, err := h.otp.Verify(c.UserContext(), in)
	if err != nil {
		return err
	}

	h.setSessionCookie(c, result.Session.Token, result.Session.ExpiresAt)

	status := fiber.StatusOK
	if result.NewAccount {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success":     true,
		"verified":    true,
		"newAccount":  result.NewAccount,
		"user":        userSummary(result.User),
		"accessToken": result.Session.AccessToken,
		"expiresAt":   result.Session.ExpiresAt,
	})
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var user models.User
	if err := h.db.WithContext(c.UserContext()).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.Unauthorized, "account no longer exists")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "user": userSummary(&user)})
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if session, ok := middleware.GetCurrentSession(c); ok {
		if err := h.sessions.RevokeByID(c.UserContext(), session.ID); err != nil {
			return err
		}
	}

	h.clearSessionCookie(c)
	return c.JSON(fiber.Map{"success": true, "message": "signed out"})
}

func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, token string, expiresAt time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HTTPOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func userSummary(u *models.User) fiber.Map {
	email := u.Email
	if u.HasPlaceholderEmail() {
		email = ""
	}
	return fiber.Map{
		"id":                   u.ID,
		"email":                email,
		"phone":                u.Phone,
		"first_name":           u.FirstName,
		"last_name":            u.LastName,
		"role":                 u.Role,
		"status":               u.Status,
		"email_verified":       u.EmailVerified,
		"mobile_verified":      u.MobileVerified,
		"is_founding_member":   u.IsFoundingMember,
		"founding_member_plan": u.FoundingMemberPlan,
		"created_at":           u.CreatedAt,
	}
}
