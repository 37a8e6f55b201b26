package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/pricing"
	"github.com/example/bondsnbeyond/internal/utils"
)

const orderNumberAttempts = 5

var planPrefixes = map[string]string{
	models.PlanDigitalOnly:       "BNB-DO",
	models.PlanDigitalProfileApp: "BNB-DPA",
	models.PlanNFCCardFull:       "BNB-NFC",
}

// PricingInput is the price the checkout page computed.
type PricingInput struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	AppSubscription decimal.Decimal `json:"appSubscription"`
}

// PaymentData is what the payment page reports after a successful charge.
type PaymentData struct {
	PaymentID     string `json:"paymentId"`
	PaymentMethod string `json:"paymentMethod"`
	VoucherCode   string `json:"voucherCode,omitempty"`
	// VoucherDiscount is a percentage, used when VoucherAmount is absent.
	VoucherDiscount decimal.Decimal `json:"voucherDiscount"`
	VoucherAmount   decimal.Decimal `json:"voucherAmount"`
}

// ProcessOrderRequest creates an order or attaches a payment to an existing one.
type ProcessOrderRequest struct {
	CardConfig   *models.CardConfig   `json:"cardConfig"`
	CheckoutData *models.CheckoutData `json:"checkoutData"`
	PaymentData  *PaymentData         `json:"paymentData,omitempty"`
	OrderID      string               `json:"orderId,omitempty"`
	Pricing      *PricingInput        `json:"pricing,omitempty"`
	IsFounding   bool                 `json:"isFoundingMember,omitempty"`
}

// EmailResult is the outcome of one lifecycle email.
type EmailResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EmailResults is returned when an order is confirmed.
type EmailResults struct {
	Confirmation EmailResult `json:"confirmation"`
	Receipt      EmailResult `json:"receipt"`
}

// ProcessOrderResult is the stored order and, on confirmation, the email outcome.
type ProcessOrderResult struct {
	Order        *models.Order
	EmailResults *EmailResults
}

// OrderService runs the pending to confirmed order lifecycle.
type OrderService struct {
	db       *gorm.DB
	cfg      *config.Config
	vouchers *VoucherService
	mailer   Mailer
	notifier OrderNotifier
	events   EventPublisher
	now      func() time.Time
}

// NewOrderService constructs OrderService. mailer, notifier and events may be nil.
func NewOrderService(db *gorm.DB, cfg *config.Config, vouchers *VoucherService, mailer Mailer, notifier OrderNotifier, events EventPublisher) *OrderService {
	return &OrderService{
		db:       db,
		cfg:      cfg,
		vouchers: vouchers,
		mailer:   mailer,
		notifier: notifier,
		events:   events,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// PlanType classifies an order from its card and the client total.
func PlanType(card models.CardConfig, total decimal.Decimal) string {
	if card.IsDigitalOnly && total.IsZero() {
		return models.PlanDigitalOnly
	}
	if pricing.IsDigital(card.BaseMaterial) && (card.IsDigitalOnly || total.IsPositive()) {
		return models.PlanDigitalProfileApp
	}
	return models.PlanNFCCardFull
}

// CurrencyFor returns the charge currency for a shipping country.
func CurrencyFor(country string) string {
	if pricing.NormalizeCountry(country) == "IN" {
		return "INR"
	}
	return "USD"
}

func (s *OrderService) generateOrderNumber(plan string) (string, error) {
	suffix, err := utils.GenerateNumericCode(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", planPrefixes[plan], s.now().Format("20060102"), suffix), nil
}

// Process creates a pending order, or confirms an existing one when req.OrderID is set.
func (s *OrderService) Process(ctx context.Context, req ProcessOrderRequest) (*ProcessOrderResult, error) {
	if req.CardConfig == nil || req.CheckoutData == nil {
		return nil, apperr.New(apperr.Validation, "Missing required data")
	}
	checkout := *req.CheckoutData
	checkout.Email = strings.ToLower(strings.TrimSpace(checkout.Email))
	if err := ValidateStruct(checkout); err != nil {
		return nil, err
	}

	snapshot := models.PricingSnapshot{}
	if req.Pricing != nil {
		snapshot.Subtotal = req.Pricing.Subtotal
		snapshot.Shipping = req.Pricing.Shipping
		snapshot.Tax = req.Pricing.Tax
		snapshot.Total = req.Pricing.Total
		snapshot.AppSubscription = req.Pricing.AppSubscription
	} else {
		log.Printf("[Order] no pricing provided for %s, storing zero totals", checkout.Email)
	}
	s.checkPricing(*req.CardConfig, checkout, snapshot.Total, req.IsFounding)

	status := models.OrderStatusPending
	if req.PaymentData != nil {
		status = models.OrderStatusConfirmed
	}

	var (
		order      *models.Order
		wasPending bool
		err        error
	)
	if req.OrderID != "" {
		order, wasPending, err = s.update(ctx, req.OrderID, status, req.PaymentData)
	} else {
		order, err = s.create(ctx, *req.CardConfig, checkout, snapshot, status, req.PaymentData)
		wasPending = true
	}
	if err != nil {
		return nil, err
	}

	result := &ProcessOrderResult{Order: order}
	if !wasPending || order.Status != models.OrderStatusConfirmed {
		return result, nil
	}

	s.recordPayment(ctx, order, req.PaymentData)
	s.redeemVoucher(ctx, order, req.PaymentData)

	results := s.sendLifecycleEmails(ctx, order)
	result.EmailResults = &results

	s.notifyConfirmed(ctx, order)
	publish(ctx, s.events, EventOrderConfirmed, order.OrderNumber, newOrderEvent(order))

	return result, nil
}

// checkPricing logs a client total that disagrees with the server price. It never rejects.
func (s *OrderService) checkPricing(card models.CardConfig, checkout models.CheckoutData, total decimal.Decimal, founding bool) {
	if card.IsDigitalOnly && total.IsZero() {
		return
	}
	expected := pricing.Calculate(pricing.Options{
		Material:               card.BaseMaterial,
		Quantity:               card.Quantity,
		Country:                checkout.Country,
		IsFoundingMember:       founding,
		IncludeAppSubscription: true,
	})
	if !expected.TotalBeforeDiscount.Equal(total) && !expected.TotalWithoutAppSubscription.Equal(total) {
		log.Printf("[Order] pricing mismatch for %s: received %s, expected %s (without subscription %s)",
			checkout.Email, total, expected.TotalBeforeDiscount, expected.TotalWithoutAppSubscription)
	}
}

func (s *OrderService) create(ctx context.Context, card models.CardConfig, checkout models.CheckoutData, snapshot models.PricingSnapshot, status string, payment *PaymentData) (*models.Order, error) {
	if checkout.PhoneNumber != "" {
		if phone, err := utils.NormalizePhone(checkout.PhoneNumber, s.cfg.DefaultRegion); err == nil {
			checkout.PhoneNumber = phone
		} else {
			log.Printf("[Order] keeping unparseable phone %q for %s", checkout.PhoneNumber, checkout.Email)
		}
	}
	if card.Quantity < 1 {
		card.Quantity = 1
	}

	user, err := s.upsertUser(ctx, checkout)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "User creation failed", err)
	}

	plan := PlanType(card, snapshot.Total)
	snapshot.TotalBeforeDiscount = snapshot.Total

	order := &models.Order{
		UserID:       user.ID,
		Status:       status,
		PlanType:     plan,
		CustomerName: strings.TrimSpace(checkout.FullName),
		Email:        checkout.Email,
		PhoneNumber:  checkout.PhoneNumber,
		CardConfig:   card,
		Shipping:     checkout,
		Pricing:      snapshot,
		Total:        snapshot.Total,
		Currency:     CurrencyFor(checkout.Country),
	}
	if payment != nil {
		s.applyPayment(order, payment)
	}
	if status == models.OrderStatusConfirmed {
		now := s.now()
		order.ConfirmedAt = &now
	}

	for attempt := 0; ; attempt++ {
		order.OrderNumber, err = s.generateOrderNumber(plan)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to generate order number", err)
		}
		order.ID = uuid.Nil

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(order).Error; err != nil {
				return err
			}
			var address models.ShippingAddress
			if err := copier.Copy(&address, &checkout); err != nil {
				return err
			}
			address.UserID = user.ID
			address.OrderID = &order.ID
			return tx.Create(&address).Error
		})
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt+1 >= orderNumberAttempts {
			return nil, apperr.Wrap(apperr.Internal, "Order creation failed", err)
		}
		log.Printf("[Order] order number %s taken, retrying", order.OrderNumber)
	}

	log.Printf("[Order] created %s for %s (%s, %s)", order.OrderNumber, order.Email, order.PlanType, order.Status)
	publish(ctx, s.events, EventOrderCreated, order.OrderNumber, newOrderEvent(order))
	return order, nil
}

func (s *OrderService) upsertUser(ctx context.Context, checkout models.CheckoutData) (*models.User, error) {
	first, last := models.SplitFullName(checkout.FullName)
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("email = ?", checkout.Email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Email:         checkout.Email,
			Phone:         checkout.PhoneNumber,
			FirstName:     first,
			LastName:      last,
			Role:          models.RoleCustomer,
			Status:        models.UserStatusPending,
			EmailVerified: true,
		}
		if err := db.Create(&user).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, err
			}
			if err := db.Where("email = ?", checkout.Email).First(&user).Error; err != nil {
				return nil, err
			}
		}
		return &user, nil
	case err != nil:
		return nil, err
	}

	updates := map[string]any{}
	if first != "" {
		updates["first_name"] = first
		updates["last_name"] = last
	}
	if checkout.PhoneNumber != "" && user.Phone == "" {
		updates["phone"] = checkout.PhoneNumber
	}
	if len(updates) > 0 {
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &user, nil
}

var orderPaymentColumns = []string{
	"status", "payment_method", "payment_id", "voucher_code", "voucher_amount",
	"pricing", "total", "confirmed_at", "updated_at",
}

// update attaches payment to an existing order. wasPending reports whether the call changed its status.
func (s *OrderService) update(ctx context.Context, ref, status string, payment *PaymentData) (*models.Order, bool, error) {
	order, err := s.find(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	switch order.Status {
	case models.OrderStatusCancelled:
		return nil, false, apperr.New(apperr.Conflict, "Order has been cancelled")
	case models.OrderStatusConfirmed:
		log.Printf("[Order] %s already confirmed", order.OrderNumber)
		return order, false, nil
	}

	order.Status = status
	if payment != nil {
		s.applyPayment(order, payment)
	}
	if status == models.OrderStatusConfirmed {
		now := s.now()
		order.ConfirmedAt = &now
	}

	// Only a still-pending row may move; a concurrent confirm or expiry wins otherwise.
	res := s.db.WithContext(ctx).Model(order).
		Where("status = ?", models.OrderStatusPending).
		Select(orderPaymentColumns).
		Updates(order)
	if res.Error != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "Order update failed", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.find(ctx, ref)
		if err != nil {
			return nil, false, err
		}
		if current.Status == models.OrderStatusCancelled {
			return nil, false, apperr.New(apperr.Conflict, "Order has been cancelled")
		}
		log.Printf("[Order] %s changed concurrently, now %s", current.OrderNumber, current.Status)
		return current, false, nil
	}
	log.Printf("[Order] updated %s to %s, total %s", order.OrderNumber, order.Status, order.Total)
	return order, true, nil
}

// applyPayment records payment fields and subtracts the voucher discount from the original total.
func (s *OrderService) applyPayment(order *models.Order, payment *PaymentData) {
	order.PaymentMethod = payment.PaymentMethod
	order.PaymentID = payment.PaymentID
	if payment.VoucherCode != "" {
		order.VoucherCode = models.NormalizeVoucherCode(payment.VoucherCode)
	}

	original := order.Pricing.TotalBeforeDiscount
	if original.IsZero() {
		original = order.Pricing.Total
		order.Pricing.TotalBeforeDiscount = original
	}

	discount := payment.VoucherAmount
	if !discount.IsPositive() && payment.VoucherCode != "" && payment.VoucherDiscount.IsPositive() {
		discount = pricing.DiscountAmount(original, pricing.DiscountPercentage, payment.VoucherDiscount, decimal.NullDecimal{})
	}
	if !discount.IsPositive() {
		return
	}
	if discount.GreaterThan(original) {
		discount = original
	}

	order.VoucherAmount = discount
	order.Pricing.VoucherAmount = discount
	order.Pricing.Total = pricing.ApplyDiscount(original, discount)
	order.Total = order.Pricing.Total
}

func (s *OrderService) recordPayment(ctx context.Context, order *models.Order, payment *PaymentData) {
	if payment == nil {
		return
	}

	providerID := payment.PaymentID
	if providerID == "" {
		providerID = fmt.Sprintf("payment_%d", s.now().UnixMilli())
	}
	method := payment.PaymentMethod
	if method == "" {
		method = "unknown"
	}

	record := models.Payment{
		OrderID:           order.ID,
		ProviderPaymentID: providerID,
		Amount:            pricing.ToMinorUnits(order.Total),
		Currency:          order.Currency,
		Status:            models.PaymentStatusSucceeded,
		Method:            method,
		Metadata: models.JSONMap{
			"voucherCode":     order.VoucherCode,
			"voucherDiscount": payment.VoucherDiscount,
			"voucherAmount":   order.VoucherAmount,
		},
	}

	err := s.db.WithContext(ctx).Create(&record).Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		log.Printf("[Order] payment for %s already recorded", order.OrderNumber)
	case err != nil:
		log.Printf("[Order] failed to record payment for %s: %v", order.OrderNumber, err)
	}
}

func (s *OrderService) redeemVoucher(ctx context.Context, order *models.Order, payment *PaymentData) {
	if s.vouchers == nil || order.VoucherCode == "" || payment == nil {
		return
	}

	userID := order.UserID
	err := s.vouchers.Redeem(ctx, Redemption{
		Code:      order.VoucherCode,
		OrderID:   order.ID,
		UserID:    &userID,
		UserEmail: order.Email,
		Amount:    order.VoucherAmount,
	})
	if err != nil {
		log.Printf("[Order] voucher %s tracking failed for %s: %v", order.VoucherCode, order.OrderNumber, err)
	}
}

func (s *OrderService) emailData(order *models.Order) OrderEmailData {
	cur := order.Currency
	data := OrderEmailData{
		OrderNumber:     order.OrderNumber,
		CustomerName:    order.CustomerName,
		PlanType:        order.PlanType,
		Material:        order.CardConfig.BaseMaterial,
		Quantity:        order.CardConfig.Quantity,
		Subtotal:        FormatPrice(order.Pricing.Subtotal, cur),
		AppSubscription: FormatPrice(order.Pricing.AppSubscription, cur),
		Tax:             FormatPrice(order.Pricing.Tax, cur),
		Shipping:        FormatPrice(order.Pricing.Shipping, cur),
		Total:           FormatPrice(order.Total, cur),
		PaymentID:       order.PaymentID,
		PaymentMethod:   order.PaymentMethod,
		Date:            s.now().Format("January 2, 2006"),
	}
	if order.VoucherAmount.IsPositive() {
		data.Discount = FormatPrice(order.VoucherAmount, cur)
		data.VoucherCode = order.VoucherCode
	}

	addr := order.Shipping
	parts := []string{}
	for _, p := range []string{addr.AddressLine1, addr.AddressLine2, addr.City, addr.State, addr.PostalCode, addr.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	data.ShippingLine = strings.Join(parts, ", ")
	return data
}

// sendLifecycleEmails sends the confirmation and the receipt and records the outcome on the order.
func (s *OrderService) sendLifecycleEmails(ctx context.Context, order *models.Order) EmailResults {
	data := s.emailData(order)

	send := func(render func(string, OrderEmailData) (EmailMessage, error)) EmailResult {
		if s.mailer == nil || !s.mailer.Configured() {
			return EmailResult{Error: ErrMailNotConfigured.Error()}
		}
		msg, err := render(order.Email, data)
		if err == nil {
			err = s.mailer.Send(ctx, msg)
		}
		if err != nil {
			log.Printf("[Order] email for %s failed: %v", order.OrderNumber, err)
			return EmailResult{Error: err.Error()}
		}
		return EmailResult{Success: true}
	}

	results := EmailResults{
		Confirmation: send(RenderOrderConfirmationEmail),
		Receipt:      send(RenderReceiptEmail),
	}

	now := s.now()
	order.EmailsSent = models.EmailsSent{
		Confirmation: results.Confirmation.Success,
		Receipt:      results.Receipt.Success,
		SentAt:       &now,
	}
	if err := s.db.WithContext(ctx).Model(order).Select("emails_sent").Updates(order).Error; err != nil {
		log.Printf("[Order] failed to record emails for %s: %v", order.OrderNumber, err)
	}
	return results
}

func (s *OrderService) notifyConfirmed(ctx context.Context, order *models.Order) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyOrderConfirmed(ctx, OrderNotification{
		OrderNumber:   order.OrderNumber,
		PlanType:      order.PlanType,
		CustomerName:  order.CustomerName,
		Email:         order.Email,
		Phone:         order.PhoneNumber,
		Material:      order.CardConfig.BaseMaterial,
		Quantity:      order.CardConfig.Quantity,
		Total:         order.Total,
		Discount:      order.VoucherAmount,
		VoucherCode:   order.VoucherCode,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
	})
	if err != nil {
		log.Printf("[Order] telegram notification for %s failed: %v", order.OrderNumber, err)
	}
}

// find loads an order by UUID or order number.
func (s *OrderService) find(ctx context.Context, ref string) (*models.Order, error) {
	ref = strings.TrimSpace(ref)
	query := s.db.WithContext(ctx)
	if id, err := uuid.Parse(ref); err == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("order_number = ?", ref)
	}

	var order models.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "Order not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load order", err)
	}
	return &order, nil
}

// Find returns an order by UUID or order number.
func (s *OrderService) Find(ctx context.Context, ref string) (*models.Order, error) {
	return s.find(ctx, ref)
}

// ListForUser returns the user's orders newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// GetForUser returns one of the user's orders.
func (s *OrderService) GetForUser(ctx context.Context, userID uuid.UUID, ref string) (*models.Order, error) {
	order, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "Order not found")
	}
	return order, nil
}

// Cancel cancels one of the user's pending orders.
func (s *OrderService) Cancel(ctx context.Context, userID uuid.UUID, ref string) (*models.Order, error) {
	order, err := s.GetForUser(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.New(apperr.Conflict, "Only pending orders can be cancelled")
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Updates(map[string]any{"status": models.OrderStatusCancelled, "cancelled_at": now})
	if res.Error != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to cancel order", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.Conflict, "Only pending orders can be cancelled")
	}

	order.Status = models.OrderStatusCancelled
	order.CancelledAt = &now
	publish(ctx, s.events, EventOrderCancelled, order.OrderNumber, newOrderEvent(order))
	return order, nil
}

// ExpireStalePending cancels pending orders created more than olderThan ago.
func (s *OrderService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, now.Add(-olderThan)).
		Updates(map[string]any{"status": models.OrderStatusCancelled, "cancelled_at": now})
	return res.RowsAffected, res.Error
}

type orderEvent struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId"`
	Status      string          `json:"status"`
	PlanType    string          `json:"planType"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	VoucherCode string          `json:"voucherCode,omitempty"`
}

func newOrderEvent(o *models.Order) orderEvent {
	return orderEvent{
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID.String(),
		Status:      o.Status,
		PlanType:    o.PlanType,
		Total:       o.Total,
		Currency:    o.Currency,
		VoucherCode: o.VoucherCode,
	}
}
