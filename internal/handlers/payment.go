package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/pricing"
	"github.com/example/bondsnbeyond/internal/services"
	"github.com/example/bondsnbeyond/internal/utils"
)

const upiQRSize = 512

// PaymentHandler charges orders and renders UPI payment codes.
type PaymentHandler struct {
	cfg      *config.Config
	orders   *services.OrderService
	vouchers *services.VoucherService
	gateway  services.PaymentGateway
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(cfg *config.Config, orders *services.OrderService, vouchers *services.VoucherService, gateway services.PaymentGateway) *PaymentHandler {
	return &PaymentHandler{cfg: cfg, orders: orders, vouchers: vouchers, gateway: gateway}
}

type chargeRequest struct {
	OrderID          string `json:"orderId"`
	Nonce            string `json:"nonce"`
	VoucherCode      string `json:"voucherCode"`
	IsFoundingMember bool   `json:"isFoundingMember"`
}

// Charge takes a card payment for a pending order and confirms it.
func (h *PaymentHandler) Charge(c *fiber.Ctx) error {
	var req chargeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.OrderID == "" || req.Nonce == "" {
		return apperr.New(apperr.Validation, "orderId and nonce are required")
	}
	if h.gateway == nil || !h.gateway.Configured() {
		return apperr.New(apperr.Unavailable, "card payments are not configured")
	}

	ctx := c.UserContext()
	order, err := h.orders.Find(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return apperr.New(apperr.Conflict, "order is not awaiting payment")
	}

	original := order.Pricing.TotalBeforeDiscount
	if original.IsZero() {
		original = order.Total
	}
	payment := &services.PaymentData{PaymentMethod: "card"}
	amount := original
	if code := strings.TrimSpace(req.VoucherCode); code != "" {
		eval := h.vouchers.Validate(ctx, services.ValidateVoucherRequest{
			Code:             code,
			OrderAmount:      original,
			UserEmail:        order.Email,
			IsFoundingMember: req.IsFoundingMember,
		})
		if !eval.Valid {
			return apperr.New(apperr.Validation, eval.Reason)
		}
		payment.VoucherCode = eval.Voucher.Code
		payment.VoucherAmount = eval.DiscountAmount
		amount = pricing.ApplyDiscount(original, eval.DiscountAmount)
	}
	if !amount.IsPositive() {
		return apperr.New(apperr.Validation, "order total must be positive to charge a card")
	}

	txID, err := h.gateway.Charge(ctx, services.ChargeRequest{
		Nonce:       req.Nonce,
		Amount:      amount,
		OrderNumber: order.OrderNumber,
	})
	if err != nil {
		if errors.Is(err, services.ErrPaymentDeclined) {
			return fiber.NewError(fiber.StatusPaymentRequired, "payment declined")
		}
		return apperr.Wrap(apperr.Unavailable, "payment processor unavailable", err)
	}
	payment.PaymentID = txID

	card := order.CardConfig
	checkout := order.Shipping
	result, err := h.orders.Process(ctx, services.ProcessOrderRequest{
		CardConfig:   &card,
		CheckoutData: &checkout,
		PaymentData:  payment,
		OrderID:      order.ID.String(),
		IsFounding:   req.IsFoundingMember,
	})
	if err != nil {
		return err
	}

	resp := fiber.Map{
		"success":   true,
		"paymentId": txID,
		"amount":    amount,
		"order":     result.Order,
	}
	if result.EmailResults != nil {
		resp["emailResults"] = result.EmailResults
	}
	return c.JSON(resp)
}

// UPIQRCode renders a upi:// payment link for the order total as a PNG.
func (h *PaymentHandler) UPIQRCode(c *fiber.Ctx) error {
	ref := c.Query("orderId")
	if ref == "" {
		return fiber.NewError(fiber.StatusBadRequest, "orderId is required")
	}
	if h.cfg.UPI.Payee == "" {
		return apperr.New(apperr.Unavailable, "UPI payments are not configured")
	}

	order, err := h.orders.Find(c.UserContext(), ref)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return apperr.New(apperr.Conflict, "order is not awaiting payment")
	}

	png, err := utils.GenerateQRCode(UPILink(h.cfg.UPI, order.Total.StringFixed(2)), upiQRSize)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to render QR code", err)
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(png)
}

// UPILink builds the upi://pay URI scanned by UPI apps.
func UPILink(upi config.UPI, amount string) string {
	return fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&cu=INR&tn=NFC%%20Card%%20Purchase",
		url.PathEscape(upi.Payee), url.PathEscape(upi.Name), amount)
}
