package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/middleware"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/utils"
)

// ProfileHandler manages user profile endpoints.
type ProfileHandler struct {
	db     *gorm.DB
	region string
}

// NewProfileHandler constructs ProfileHandler. region is the default phone region.
func NewProfileHandler(db *gorm.DB, region string) *ProfileHandler {
	return &ProfileHandler{db: db, region: region}
}

// GetProfile returns authenticated user profile.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	user, err := h.loadUser(c, userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": userSummary(user)})
}

func (h *ProfileHandler) loadUser(c *fiber.Ctx, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := h.db.WithContext(c.UserContext()).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return nil, err
	}
	return &user, nil
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
}

// UpdateProfile updates user profile fields. A new phone number must be verified again.
func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.loadUser(c, userID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if req.Phone != nil {
		phone, err := utils.NormalizePhone(*req.Phone, h.region)
		if err != nil {
			return apperr.Wrap(apperr.Validation, "invalid phone number", err)
		}
		if phone != user.Phone {
			updates["phone"] = phone
			updates["mobile_verified"] = false
		}
	}
	if len(updates) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no fields to update")
	}

	if err := h.db.WithContext(c.UserContext()).Model(user).Updates(updates).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "message": "profile updated", "data": userSummary(user)})
}

// ListAddresses returns the user's saved shipping addresses.
func (h *ProfileHandler) ListAddresses(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var addresses []models.ShippingAddress
	if err := h.db.WithContext(c.UserContext()).
		Where("user_id = ?", userID).
		Order("is_default desc, created_at desc").
		Find(&addresses).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": addresses})
}
