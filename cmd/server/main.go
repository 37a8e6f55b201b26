package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/database"
	"github.com/example/bondsnbeyond/internal/guard"
	"github.com/example/bondsnbeyond/internal/jobs"
	"github.com/example/bondsnbeyond/internal/middleware"
	"github.com/example/bondsnbeyond/internal/routes"
	"github.com/example/bondsnbeyond/internal/services"
)

func main() {
	cfg := config.Load()
	dbCtx, dbCancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.Open(dbCtx, cfg.DatabaseURL, cfg.IsProduction())
	dbCancel()
	if err != nil {
		log.Fatalf("database error: %v", err)
	}

	runner := &jobs.Runner{OrderPendingTTL: cfg.OrderPendingTTL}

	var g guard.Guard
	var redisGuard *guard.Redis
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rg, err := guard.Connect(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		cancel()
		if err != nil {
			log.Fatalf("redis connect error: %v", err)
		}
		g, redisGuard = rg, rg
		log.Printf("[Guard] using redis")
	} else {
		mem := guard.NewMemory()
		g = mem
		runner.Guard = mem
		log.Printf("[Guard] REDIS_URL not set, using process memory")
	}

	events := services.NewKafkaPublisher(cfg.Kafka)
	mailer := services.NewEmailService(cfg.SMTP)
	if !mailer.Configured() {
		log.Printf("[Email] SMTP not configured, email delivery disabled")
	}
	telegram := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)
	gateway := services.NewBraintreeGateway(cfg.Braintree)

	sessions := services.NewSessionService(db, cfg.JWTSecret)
	vouchers := services.NewVoucherService(db)
	otp := services.NewOTPService(db, cfg, g, mailer, services.NewTwilioVerify(cfg.Twilio), sessions, events)
	orders := services.NewOrderService(db, cfg, vouchers, mailer, telegram, events)

	runner.OTPs = otp
	runner.Sessions = sessions
	runner.Orders = orders
	scheduler, err := jobs.Start(runner)
	if err != nil {
		log.Fatalf("scheduler error: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "Bonds N Beyond Backend",
		ErrorHandler: middleware.ErrorHandler(cfg.IsProduction()),
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: cfg.CORSOrigins != "*",
	}))

	routes.Register(app, routes.Deps{
		Config:   cfg,
		DB:       db,
		OTP:      otp,
		Sessions: sessions,
		Orders:   orders,
		Vouchers: vouchers,
		Gateway:  gateway,
	})

	go func() {
		log.Printf("Starting server on :%s", cfg.AppPort)
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatalf("fiber.Listen error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	log.Println("Signal received, starting graceful shutdown...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Printf("fiber shutdown error: %v", err)
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	if err := events.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}
	if redisGuard != nil {
		if err := redisGuard.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}
}
