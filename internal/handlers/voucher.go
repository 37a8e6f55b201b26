package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/bondsnbeyond/internal/services"
	"github.com/example/bondsnbeyond/internal/utils"
)

// VoucherHandler manages voucher endpoints.
type VoucherHandler struct {
	vouchers *services.VoucherService
}

// NewVoucherHandler constructs VoucherHandler.
func NewVoucherHandler(vouchers *services.VoucherService) *VoucherHandler {
	return &VoucherHandler{vouchers: vouchers}
}

type validateVoucherRequest struct {
	Code             string          `json:"code"`
	OrderAmount      decimal.Decimal `json:"orderAmount"`
	UserEmail        string          `json:"userEmail"`
	IsFoundingMember bool            `json:"isFoundingMember"`
}

// ValidateVoucher checks a code against a checkout amount. An invalid code is a 200 with valid=false.
func (h *VoucherHandler) ValidateVoucher(c *fiber.Ctx) error {
	var req validateVoucherRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Code) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "code is required")
	}

	eval := h.vouchers.Validate(c.UserContext(), services.ValidateVoucherRequest{
		Code:             req.Code,
		OrderAmount:      req.OrderAmount,
		UserEmail:        req.UserEmail,
		IsFoundingMember: req.IsFoundingMember,
	})
	if !eval.Valid {
		return c.JSON(fiber.Map{
			"success": true,
			"valid":   false,
			"message": eval.Reason,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"valid":   true,
		"voucher": fiber.Map{
			"code":            eval.Voucher.Code,
			"description":     eval.Voucher.Description,
			"discount_type":   eval.DiscountType,
			"discount_value":  eval.Voucher.DiscountValue,
			"discount_amount": eval.DiscountAmount,
		},
	})
}

// CreateVoucher adds a voucher. Admin only.
func (h *VoucherHandler) CreateVoucher(c *fiber.Ctx) error {
	var req services.CreateVoucherInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := services.ValidateStruct(req); err != nil {
		return err
	}

	voucher, err := h.vouchers.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": voucher})
}

// ListVouchers returns vouchers with usage counts. Admin only.
func (h *VoucherHandler) ListVouchers(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	vouchers, total, err := h.vouchers.List(c.UserContext(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       vouchers,
		"pagination": pg.Meta(total),
	})
}
