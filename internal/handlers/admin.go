package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/utils"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db, now: time.Now}
}

type sumRow struct {
	Total decimal.Decimal
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	db := h.db.WithContext(c.UserContext())

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var foundingMembers int64
	if err := db.Model(&models.User{}).Where("is_founding_member = ?", true).Count(&foundingMembers).Error; err != nil {
		return err
	}

	var totalOrders int64
	if err := db.Model(&models.Order{}).Count(&totalOrders).Error; err != nil {
		return err
	}

	// Orders by status
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var statusCounts []statusCount
	if err := db.Model(&models.Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return err
	}

	ordersByStatus := make(map[string]int64)
	for _, sc := range statusCounts {
		ordersByStatus[sc.Status] = sc.Count
	}

	// Revenue counts confirmed orders only
	var totalRevenue sumRow
	if err := db.Model(&models.Order{}).
		Where("status = ?", models.OrderStatusConfirmed).
		Select("COALESCE(SUM(total), 0) AS total").
		Scan(&totalRevenue).Error; err != nil {
		return err
	}

	now := h.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var todayRevenue sumRow
	if err := db.Model(&models.Order{}).
		Where("status = ? AND confirmed_at >= ?", models.OrderStatusConfirmed, startOfDay).
		Select("COALESCE(SUM(total), 0) AS total").
		Scan(&todayRevenue).Error; err != nil {
		return err
	}

	var redemptions int64
	if err := db.Model(&models.VoucherUsage{}).Count(&redemptions).Error; err != nil {
		return err
	}

	var discountGiven sumRow
	if err := db.Model(&models.VoucherUsage{}).
		Select("COALESCE(SUM(discount_amount), 0) AS total").
		Scan(&discountGiven).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_users":         totalUsers,
			"founding_members":    foundingMembers,
			"total_orders":        totalOrders,
			"orders_by_status":    ordersByStatus,
			"total_revenue":       totalRevenue.Total,
			"today_revenue":       todayRevenue.Total,
			"voucher_redemptions": redemptions,
			"voucher_discounts":   discountGiven.Total,
		},
	})
}

// ListAllOrders returns all orders with pagination, filtering, and user info.
func (h *AdminHandler) ListAllOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(order_number) LIKE ? OR LOWER(email) LIKE ?", q, q)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("User").
		Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}
