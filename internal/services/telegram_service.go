package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService handles sending notifications to Telegram.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// OrderNotification contains order data for Telegram notification.
type OrderNotification struct {
	OrderNumber   string
	PlanType      string
	CustomerName  string
	Email         string
	Phone         string
	Material      string
	Quantity      int
	Total         decimal.Decimal
	Discount      decimal.Decimal
	VoucherCode   string
	Currency      string
	PaymentMethod string
}

// OrderNotifier tells staff about confirmed orders.
type OrderNotifier interface {
	NotifyOrderConfirmed(ctx context.Context, order OrderNotification) error
}

var currencySymbols = map[string]string{
	"INR": "₹",
	"USD": "$",
}

// FormatPrice formats price with currency and thousand separators.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "USD"
	}

	str := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(str, ".")

	var result strings.Builder
	if amount.IsNegative() {
		result.WriteString("-")
	}
	if symbol, ok := currencySymbols[currency]; ok {
		result.WriteString(symbol)
	}
	length := len(intPart)
	for i, digit := range intPart {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}
	result.WriteString("." + frac)

	if _, ok := currencySymbols[currency]; !ok {
		result.WriteString(" " + currency)
	}
	return result.String()
}

// NotifyOrderConfirmed sends a confirmed order to the admin chat.
func (s *TelegramService) NotifyOrderConfirmed(ctx context.Context, order OrderNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	discountLine := ""
	if order.Discount.IsPositive() {
		discountLine = fmt.Sprintf("\n<b>🎟 Voucher:</b> %s (-%s)", order.VoucherCode, FormatPrice(order.Discount, order.Currency))
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>📋 Order:</b> %s
<b>🪪 Plan:</b> %s
<b>👤 Customer:</b> %s
<b>✉️ Email:</b> %s
<b>📞 Phone:</b> %s
<b>💳 Card:</b> %s × %d%s
<b>💰 Total:</b> %s
<b>🧾 Payment:</b> %s
━━━━━━━━━━━━━━━━━━`,
		order.OrderNumber,
		order.PlanType,
		order.CustomerName,
		order.Email,
		valueOr(order.Phone, "-"),
		order.Material,
		order.Quantity,
		discountLine,
		FormatPrice(order.Total, order.Currency),
		valueOr(order.PaymentMethod, "-"),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
