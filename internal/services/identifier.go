package services

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/utils"
)

var validate = validator.New()

// normalizeIdentifier returns the canonical identifier and its channel.
// Emails are lower-cased; anything else must parse as a phone number.
func normalizeIdentifier(raw, region string) (string, string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", "", apperr.New(apperr.Validation, "email or phone number is required")
	}

	if strings.Contains(value, "@") {
		email := strings.ToLower(value)
		if err := validate.Var(email, "email"); err != nil {
			return "", "", apperr.New(apperr.Validation, "invalid email address")
		}
		return email, models.OTPChannelEmail, nil
	}

	phone, err := utils.NormalizePhone(value, region)
	if err != nil {
		return "", "", apperr.New(apperr.Validation, "invalid phone number")
	}
	return phone, models.OTPChannelSMS, nil
}

// ValidateStruct runs the struct tags of v and maps failures to a validation error.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid request", err)
	}
	return nil
}
