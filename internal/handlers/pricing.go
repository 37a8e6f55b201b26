package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/bondsnbeyond/internal/pricing"
)

// Quote prices a card configuration from query parameters.
func Quote(c *fiber.Ctx) error {
	breakdown := pricing.Calculate(pricing.Options{
		Material:               c.Query("material", pricing.MaterialPVC),
		Quantity:               c.QueryInt("quantity", 1),
		Country:                c.Query("country"),
		IsFoundingMember:       c.QueryBool("founding_member", false),
		IncludeAppSubscription: c.QueryBool("include_subscription", true),
	})

	return c.JSON(fiber.Map{"success": true, "data": breakdown})
}
