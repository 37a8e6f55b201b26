package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/services"
	"github.com/example/bondsnbeyond/internal/utils"
)

// ProductHandler manages the card and print catalog.
type ProductHandler struct {
	db *gorm.DB
}

// NewProductHandler constructs ProductHandler.
func NewProductHandler(db *gorm.DB) *ProductHandler {
	return &ProductHandler{db: db}
}

// ListProducts returns paginated active products.
func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Product{}).Where("is_active = ?", true)

	if c.QueryBool("featured", false) {
		query = query.Where("is_featured = ?", true)
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", q, q)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var products []models.Product
	if err := query.Limit(pg.Limit).Offset(pg.Offset).
		Order("is_featured desc, created_at desc").
		Find(&products).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       products,
		"pagination": pg.Meta(total),
	})
}

// GetProduct loads an active product by slug.
func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := h.db.WithContext(c.UserContext()).
		First(&product, "slug = ? AND is_active = ?", c.Params("slug"), true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "product not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": product})
}

type productRequest struct {
	SKU            string              `json:"sku" validate:"required,max=64"`
	Name           string              `json:"name" validate:"required,max=200"`
	Slug           string              `json:"slug"`
	Description    string              `json:"description"`
	Price          decimal.Decimal     `json:"price"`
	CompareAtPrice decimal.NullDecimal `json:"compare_at_price"`
	Stock          int                 `json:"stock" validate:"min=0"`
	Images         []string            `json:"images" validate:"dive,url"`
	IsActive       *bool               `json:"is_active"`
	IsFeatured     bool                `json:"is_featured"`
}

// CreateProduct adds a product. The slug is derived from the name when omitted.
func (h *ProductHandler) CreateProduct(c *fiber.Ctx) error {
	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := services.ValidateStruct(req); err != nil {
		return err
	}
	if req.Price.IsNegative() {
		return apperr.New(apperr.Validation, "price cannot be negative")
	}

	product := models.Product{
		SKU:            strings.TrimSpace(req.SKU),
		Name:           strings.TrimSpace(req.Name),
		Slug:           productSlug(req.Slug, req.Name),
		Description:    req.Description,
		Price:          req.Price,
		CompareAtPrice: req.CompareAtPrice,
		Stock:          req.Stock,
		Images:         req.Images,
		IsActive:       req.IsActive == nil || *req.IsActive,
		IsFeatured:     req.IsFeatured,
	}
	if product.Images == nil {
		product.Images = []string{}
	}

	ctx := c.UserContext()
	var taken int64
	if err := h.db.WithContext(ctx).Model(&models.Product{}).Where("slug = ?", product.Slug).Count(&taken).Error; err != nil {
		return err
	}
	if taken > 0 {
		product.Slug = product.Slug + "-" + strings.Split(uuid.NewString(), "-")[0]
	}

	if err := h.db.WithContext(ctx).Create(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.New(apperr.Conflict, "a product with this sku already exists")
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": product})
}

func productSlug(explicit, name string) string {
	if s := slug.Make(explicit); s != "" {
		return s
	}
	if s := slug.Make(name); s != "" {
		return s
	}
	return strings.Split(uuid.NewString(), "-")[0]
}

// RegisterProductRoutes attaches the public catalog routes.
func (h *ProductHandler) RegisterProductRoutes(router fiber.Router) {
	router.Get("/", h.ListProducts)
	router.Get("/:slug", h.GetProduct)
}
