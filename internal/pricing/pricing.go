// Package pricing computes card prices, taxes and voucher discounts.
//
// Every caller that shows, validates or charges a price goes through
// Calculate so all of them agree to the cent.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Card materials.
const (
	MaterialPVC     = "pvc"
	MaterialMetal   = "metal"
	MaterialWood    = "wood"
	MaterialDigital = "digital"
)

var (
	materialPrices = map[string]decimal.Decimal{
		MaterialPVC:     decimal.NewFromInt(69),
		MaterialMetal:   decimal.NewFromInt(99),
		MaterialWood:    decimal.NewFromInt(79),
		MaterialDigital: decimal.NewFromInt(59),
	}

	taxRates = map[string]decimal.Decimal{
		"IN": decimal.RequireFromString("0.18"),
		"US": decimal.RequireFromString("0.08"),
		"CA": decimal.RequireFromString("0.13"),
		"GB": decimal.RequireFromString("0.20"),
		"AU": decimal.RequireFromString("0.10"),
	}

	// AppSubscriptionPrice is the per-card app fee waived for founding members.
	AppSubscriptionPrice = decimal.NewFromInt(120)
	DefaultTaxRate       = decimal.RequireFromString("0.05")
	ShippingCost         = decimal.Zero
)

// Options are the inputs of a price calculation.
type Options struct {
	Material               string
	Quantity               int
	Country                string
	IsFoundingMember       bool
	IncludeAppSubscription bool
}

// Breakdown is the result of a price calculation.
type Breakdown struct {
	Material                    string          `json:"material"`
	MaterialPrice               decimal.Decimal `json:"materialPrice"`
	Quantity                    int             `json:"quantity"`
	Subtotal                    decimal.Decimal `json:"subtotal"`
	AppSubscriptionPrice        decimal.Decimal `json:"appSubscriptionPrice"`
	TaxRate                     decimal.Decimal `json:"taxRate"`
	TaxAmount                   decimal.Decimal `json:"taxAmount"`
	ShippingCost                decimal.Decimal `json:"shippingCost"`
	TotalBeforeDiscount         decimal.Decimal `json:"totalBeforeDiscount"`
	TotalWithoutAppSubscription decimal.Decimal `json:"totalWithoutAppSubscription"`
}

// NormalizeMaterial lower-cases and trims a material name.
func NormalizeMaterial(material string) string {
	return strings.ToLower(strings.TrimSpace(material))
}

// IsDigital reports whether the material is the digital-only card.
func IsDigital(material string) bool {
	return NormalizeMaterial(material) == MaterialDigital
}

// MaterialPrice returns the unit price for material; unknown materials cost as much as PVC.
func MaterialPrice(material string) decimal.Decimal {
	if price, ok := materialPrices[NormalizeMaterial(material)]; ok {
		return price
	}
	return materialPrices[MaterialPVC]
}

var countryNames = map[string]string{
	"INDIA":          "IN",
	"UNITED STATES":  "US",
	"USA":            "US",
	"CANADA":         "CA",
	"UNITED KINGDOM": "GB",
	"UK":             "GB",
	"AUSTRALIA":      "AU",
}

// NormalizeCountry maps a country code or common country name to an upper-case ISO code.
func NormalizeCountry(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	if code, ok := countryNames[c]; ok {
		return code
	}
	return c
}

// TaxRate returns the rate for a country, or DefaultTaxRate.
func TaxRate(country string) decimal.Decimal {
	if rate, ok := taxRates[NormalizeCountry(country)]; ok {
		return rate
	}
	return DefaultTaxRate
}

// Calculate prices a card order. Tax applies to the card subtotal only.
func Calculate(opts Options) Breakdown {
	quantity := opts.Quantity
	if quantity < 1 {
		quantity = 1
	}

	unit := MaterialPrice(opts.Material)
	subtotal := unit.Mul(decimal.NewFromInt(int64(quantity)))

	subscription := decimal.Zero
	if opts.IncludeAppSubscription && !opts.IsFoundingMember {
		if IsDigital(opts.Material) {
			subscription = AppSubscriptionPrice
		} else {
			subscription = AppSubscriptionPrice.Mul(decimal.NewFromInt(int64(quantity)))
		}
	}

	rate := TaxRate(opts.Country)
	tax := subtotal.Mul(rate).Round(2)

	withoutSubscription := subtotal.Add(tax).Add(ShippingCost)

	return Breakdown{
		Material:                    NormalizeMaterial(opts.Material),
		MaterialPrice:               unit,
		Quantity:                    quantity,
		Subtotal:                    subtotal,
		AppSubscriptionPrice:        subscription,
		TaxRate:                     rate,
		TaxAmount:                   tax,
		ShippingCost:                ShippingCost,
		TotalBeforeDiscount:         withoutSubscription.Add(subscription),
		TotalWithoutAppSubscription: withoutSubscription,
	}
}

// ToMinorUnits converts an amount to integer cents or paise.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
