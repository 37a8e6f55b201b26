package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/handlers"
	"github.com/example/bondsnbeyond/internal/middleware"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/services"
)

// Deps are the services the HTTP layer needs.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	OTP      *services.OTPService
	Sessions *services.SessionService
	Orders   *services.OrderService
	Vouchers *services.VoucherService
	Gateway  services.PaymentGateway
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Deps) {
	authHandler := handlers.NewAuthHandler(d.DB, d.Config, d.OTP, d.Sessions)
	orderHandler := handlers.NewOrderHandler(d.Orders)
	voucherHandler := handlers.NewVoucherHandler(d.Vouchers)
	paymentHandler := handlers.NewPaymentHandler(d.Config, d.Orders, d.Vouchers, d.Gateway)
	productHandler := handlers.NewProductHandler(d.DB)
	profileHandler := handlers.NewProfileHandler(d.DB, d.Config.DefaultRegion)
	adminHandler := handlers.NewAdminHandler(d.DB)

	requireAuth := middleware.AuthMiddleware(d.Sessions)
	mobileLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperr.RateLimit("too many verification attempts, please try again later", time.Minute)
		},
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})

	api := app.Group("/api")

	// The storefront posts to these at the root; /api mirrors them.
	for _, r := range []fiber.Router{app, api} {
		r.Post("/process-order", orderHandler.ProcessOrder)
		r.Post("/send-otp", authHandler.SendOTP)
		r.Post("/verify-otp", authHandler.VerifyOTP)
		r.Post("/verify-mobile-otp", mobileLimiter, authHandler.VerifyMobileOTP)
	}

	// Auth routes
	auth := api.Group("/auth")
	auth.Get("/me", requireAuth, authHandler.Me)
	auth.Post("/logout", requireAuth, authHandler.Logout)

	api.Get("/pricing/quote", handlers.Quote)
	api.Post("/vouchers/validate", voucherHandler.ValidateVoucher)

	payment := api.Group("/payment")
	payment.Post("/charge", paymentHandler.Charge)
	payment.Get("/upi-qr", paymentHandler.UPIQRCode)

	products := api.Group("/products")
	productHandler.RegisterProductRoutes(products)

	// Protected routes
	protected := api.Group("", requireAuth)

	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
	protected.Post("/orders/:id/cancel", orderHandler.CancelOrder)

	protected.Get("/profile", profileHandler.GetProfile)
	protected.Put("/profile", profileHandler.UpdateProfile)
	protected.Get("/profile/addresses", profileHandler.ListAddresses)

	admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	admin.Get("/stats", adminHandler.DashboardStats)
	admin.Get("/orders", adminHandler.ListAllOrders)
	admin.Get("/vouchers", voucherHandler.ListVouchers)
	admin.Post("/vouchers", voucherHandler.CreateVoucher)
	admin.Post("/products", productHandler.CreateProduct)
}
