package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/bondsnbeyond/internal/middleware"
	"github.com/example/bondsnbeyond/internal/services"
	"github.com/example/bondsnbeyond/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// ProcessOrder creates a pending order, or confirms an existing one when orderId is set.
func (h *OrderHandler) ProcessOrder(c *fiber.Ctx) error {
	var req services.ProcessOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.orders.Process(c.UserContext(), req)
	if err != nil {
		return err
	}

	resp := fiber.Map{
		"success": true,
		"order":   result.Order,
	}
	if result.EmailResults != nil {
		resp["emailResults"] = result.EmailResults
	}

	if req.OrderID == "" {
		resp["message"] = "Order created successfully"
		return c.Status(fiber.StatusCreated).JSON(resp)
	}
	resp["message"] = "Order updated successfully"
	return c.JSON(resp)
}

// ListOrders returns the signed-in user's orders.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	orders, total, err := h.orders.ListForUser(c.UserContext(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}

// GetOrder returns one of the signed-in user's orders by id or order number.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	order, err := h.orders.GetForUser(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// CancelOrder cancels a pending order.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	order, err := h.orders.Cancel(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "order cancelled", "data": order})
}
