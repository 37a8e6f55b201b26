package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountType is how a voucher value is interpreted.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// ParseDiscountType accepts the stored spellings of a discount type.
func ParseDiscountType(s string) (DiscountType, bool) {
	switch DiscountType(strings.ToLower(strings.TrimSpace(s))) {
	case DiscountFixed:
		return DiscountFixed, true
	case DiscountPercentage:
		return DiscountPercentage, true
	default:
		return "", false
	}
}

var hundred = decimal.NewFromInt(100)

// DiscountAmount computes the discount a voucher grants on orderAmount.
// The result is rounded to cents, never negative and never above orderAmount.
func DiscountAmount(orderAmount decimal.Decimal, kind DiscountType, value decimal.Decimal, maxDiscount decimal.NullDecimal) decimal.Decimal {
	if !orderAmount.IsPositive() || !value.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch kind {
	case DiscountPercentage:
		discount = orderAmount.Mul(value).Div(hundred)
	case DiscountFixed:
		discount = value
	default:
		return decimal.Zero
	}

	if maxDiscount.Valid && maxDiscount.Decimal.IsPositive() {
		discount = decimal.Min(discount, maxDiscount.Decimal)
	}
	discount = decimal.Min(discount, orderAmount)

	return discount.Round(2)
}

// ApplyDiscount subtracts discount from total, flooring at zero.
func ApplyDiscount(total, discount decimal.Decimal) decimal.Decimal {
	if !discount.IsPositive() {
		return total
	}
	return decimal.Max(decimal.Zero, total.Sub(discount)).Round(2)
}
