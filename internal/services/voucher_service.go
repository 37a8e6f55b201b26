package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/pricing"
)

// Reasons a voucher is rejected.
const (
	VoucherReasonNotFound       = "voucher not found"
	VoucherReasonInactive       = "voucher is not active"
	VoucherReasonNotStarted     = "voucher is not yet valid"
	VoucherReasonExpired        = "voucher has expired"
	VoucherReasonExhausted      = "voucher usage limit reached"
	VoucherReasonBelowMinimum   = "order amount is below the voucher minimum"
	VoucherReasonFoundingOnly   = "voucher is only available to founding members"
	VoucherReasonAlreadyUsed    = "voucher has already been used"
	VoucherReasonInvalidType    = "voucher has an unknown discount type"
	VoucherReasonLookupFailed   = "voucher could not be checked"
	VoucherReasonNothingToApply = "order amount must be positive"
)

// VoucherEvaluation is the outcome of checking a voucher against an order amount.
type VoucherEvaluation struct {
	Valid          bool
	Reason         string
	Voucher        *models.Voucher
	DiscountType   pricing.DiscountType
	DiscountAmount decimal.Decimal
}

// EvaluateVoucher applies the rules of v to orderAmount at now without touching storage.
func EvaluateVoucher(v *models.Voucher, orderAmount decimal.Decimal, isFoundingMember bool, now time.Time) VoucherEvaluation {
	invalid := func(reason string) VoucherEvaluation {
		return VoucherEvaluation{Valid: false, Reason: reason, Voucher: v, DiscountAmount: decimal.Zero}
	}

	if v == nil {
		return invalid(VoucherReasonNotFound)
	}
	if !v.IsActive {
		return invalid(VoucherReasonInactive)
	}
	if v.ValidFrom != nil && now.Before(*v.ValidFrom) {
		return invalid(VoucherReasonNotStarted)
	}
	if v.ValidUntil != nil && now.After(*v.ValidUntil) {
		return invalid(VoucherReasonExpired)
	}
	if v.UsageLimit != nil && v.UsedCount >= *v.UsageLimit {
		return invalid(VoucherReasonExhausted)
	}
	if v.FoundingMembersOnly && !isFoundingMember {
		return invalid(VoucherReasonFoundingOnly)
	}
	if !orderAmount.IsPositive() {
		return invalid(VoucherReasonNothingToApply)
	}
	if v.MinOrderAmount.IsPositive() && orderAmount.LessThan(v.MinOrderAmount) {
		return invalid(VoucherReasonBelowMinimum)
	}

	kind, ok := pricing.ParseDiscountType(v.DiscountType)
	if !ok {
		return invalid(VoucherReasonInvalidType)
	}

	return VoucherEvaluation{
		Valid:          true,
		Voucher:        v,
		DiscountType:   kind,
		DiscountAmount: pricing.DiscountAmount(orderAmount, kind, v.DiscountValue, v.MaxDiscountAmount),
	}
}

// VoucherService looks up, validates and redeems vouchers.
type VoucherService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewVoucherService constructs VoucherService.
func NewVoucherService(db *gorm.DB) *VoucherService {
	return &VoucherService{db: db, now: time.Now}
}

// SetClock replaces the time source.
func (s *VoucherService) SetClock(now func() time.Time) {
	s.now = now
}

// FindByCode returns the voucher for code, matched case-insensitively.
func (s *VoucherService) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.WithContext(ctx).Where("code = ?", models.NormalizeVoucherCode(code)).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// ValidateVoucherRequest is a checkout-time voucher check.
type ValidateVoucherRequest struct {
	Code             string
	OrderAmount      decimal.Decimal
	UserEmail        string
	IsFoundingMember bool
}

// Validate checks a code for a checkout. Lookup failures are logged and reported as invalid.
func (s *VoucherService) Validate(ctx context.Context, req ValidateVoucherRequest) VoucherEvaluation {
	if strings.TrimSpace(req.Code) == "" {
		return VoucherEvaluation{Reason: VoucherReasonNotFound}
	}

	v, err := s.FindByCode(ctx, req.Code)
	if err != nil {
		log.Printf("[Voucher] lookup of %q failed: %v", req.Code, err)
		return VoucherEvaluation{Reason: VoucherReasonLookupFailed}
	}

	eval := EvaluateVoucher(v, req.OrderAmount, req.IsFoundingMember, s.now())
	if !eval.Valid || !v.OncePerUser || req.UserEmail == "" {
		return eval
	}

	var used int64
	err = s.db.WithContext(ctx).Model(&models.VoucherUsage{}).
		Where("voucher_id = ? AND user_email = ?", v.ID, strings.ToLower(strings.TrimSpace(req.UserEmail))).
		Count(&used).Error
	if err != nil {
		log.Printf("[Voucher] usage lookup for %s failed: %v", v.Code, err)
		return VoucherEvaluation{Reason: VoucherReasonLookupFailed}
	}
	if used > 0 {
		return VoucherEvaluation{Reason: VoucherReasonAlreadyUsed, Voucher: v}
	}
	return eval
}

// Redemption records that an order used a voucher.
type Redemption struct {
	Code      string
	OrderID   uuid.UUID
	UserID    *uuid.UUID
	UserEmail string
	Amount    decimal.Decimal
}

// Redeem inserts the usage row and bumps used_count in one transaction.
// Redeeming the same order twice is a no-op.
func (s *VoucherService) Redeem(ctx context.Context, r Redemption) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v models.Voucher
		if err := tx.Where("code = ?", models.NormalizeVoucherCode(r.Code)).First(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.NotFound, VoucherReasonNotFound)
			}
			return err
		}

		usage := models.VoucherUsage{
			VoucherID:      v.ID,
			UserID:         r.UserID,
			UserEmail:      strings.ToLower(strings.TrimSpace(r.UserEmail)),
			OrderID:        r.OrderID,
			DiscountAmount: r.Amount.Round(2),
		}
		if err := tx.Create(&usage).Error; err != nil {
			return err
		}

		return tx.Model(&models.Voucher{}).Where("id = ?", v.ID).
			UpdateColumn("used_count", gorm.Expr("used_count + ?", 1)).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		log.Printf("[Voucher] order %s already redeemed %s", r.OrderID, r.Code)
		return nil
	}
	return err
}

// CreateVoucherInput is an admin request to add a voucher.
type CreateVoucherInput struct {
	Code                string              `json:"code" validate:"required,min=3,max=32"`
	Description         string              `json:"description"`
	DiscountType        string              `json:"discount_type" validate:"required,oneof=fixed percentage"`
	DiscountValue       decimal.Decimal     `json:"discount_value"`
	MaxDiscountAmount   decimal.NullDecimal `json:"max_discount_amount"`
	MinOrderAmount      decimal.Decimal     `json:"min_order_amount"`
	UsageLimit          *int                `json:"usage_limit" validate:"omitempty,min=1"`
	ValidFrom           *time.Time          `json:"valid_from"`
	ValidUntil          *time.Time          `json:"valid_until"`
	IsActive            *bool               `json:"is_active"`
	FoundingMembersOnly bool                `json:"founding_members_only"`
	OncePerUser         bool                `json:"once_per_user"`
}

// Create adds a voucher.
func (s *VoucherService) Create(ctx context.Context, in CreateVoucherInput) (*models.Voucher, error) {
	if !in.DiscountValue.IsPositive() {
		return nil, apperr.New(apperr.Validation, "discount_value must be positive")
	}
	if in.DiscountType == string(pricing.DiscountPercentage) && in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperr.New(apperr.Validation, "percentage discount cannot exceed 100")
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return nil, apperr.New(apperr.Validation, "valid_until must be after valid_from")
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	v := models.Voucher{
		Code:                in.Code,
		Description:         in.Description,
		DiscountType:        in.DiscountType,
		DiscountValue:       in.DiscountValue,
		MaxDiscountAmount:   in.MaxDiscountAmount,
		MinOrderAmount:      in.MinOrderAmount,
		UsageLimit:          in.UsageLimit,
		ValidFrom:           in.ValidFrom,
		ValidUntil:          in.ValidUntil,
		IsActive:            active,
		FoundingMembersOnly: in.FoundingMembersOnly,
		OncePerUser:         in.OncePerUser,
	}
	if err := s.db.WithContext(ctx).Create(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.New(apperr.Conflict, "voucher code already exists")
		}
		return nil, err
	}
	return &v, nil
}

// List returns vouchers newest first.
func (s *VoucherService) List(ctx context.Context, limit, offset int) ([]models.Voucher, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Voucher{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var vouchers []models.Voucher
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&vouchers).Error; err != nil {
		return nil, 0, err
	}
	return vouchers, total, nil
}
