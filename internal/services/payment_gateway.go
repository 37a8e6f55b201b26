package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"

	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/pricing"
)

// ErrPaymentDeclined is returned when the processor refuses a charge.
var ErrPaymentDeclined = errors.New("payment declined")

// ChargeRequest is a one-off card charge.
type ChargeRequest struct {
	Nonce       string
	Amount      decimal.Decimal
	OrderNumber string
}

// PaymentGateway charges customers through the card processor.
type PaymentGateway interface {
	Configured() bool
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

// BraintreeGateway charges cards through Braintree.
type BraintreeGateway struct {
	gateway    *braintree.Braintree
	configured bool
}

// NewBraintreeGateway initializes the Braintree SDK gateway.
func NewBraintreeGateway(cfg config.Braintree) *BraintreeGateway {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	return &BraintreeGateway{
		gateway:    braintree.New(env, cfg.MerchantID, cfg.PublicKey, cfg.PrivateKey),
		configured: cfg.Configured(),
	}
}

func (g *BraintreeGateway) Configured() bool {
	return g != nil && g.configured
}

// Charge submits a sale for settlement and returns the transaction id.
func (g *BraintreeGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if !g.Configured() {
		return "", errors.New("braintree is not configured")
	}

	tx, err := g.gateway.Transaction().Create(ctx, &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             braintree.NewDecimal(pricing.ToMinorUnits(req.Amount), 2),
		PaymentMethodNonce: req.Nonce,
		OrderId:            req.OrderNumber,
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("transaction creation failed: %w", err)
	}

	if tx.Status == braintree.TransactionStatusProcessorDeclined || tx.Status == braintree.TransactionStatusGatewayRejected {
		return "", fmt.Errorf("%w: %s", ErrPaymentDeclined, tx.ProcessorResponseText)
	}

	return tx.Id, nil
}
