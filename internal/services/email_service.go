package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log"

	"gopkg.in/gomail.v2"

	"github.com/example/bondsnbeyond/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ErrMailNotConfigured is returned by Send when SMTP settings are missing.
var ErrMailNotConfigured = errors.New("smtp is not configured")

// EmailMessage is a rendered HTML email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Configured() bool
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailService sends mail through SMTP.
type EmailService struct {
	cfg    config.SMTP
	dialer *gomail.Dialer
}

// NewEmailService creates a new EmailService.
func NewEmailService(cfg config.SMTP) *EmailService {
	return &EmailService{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *EmailService) Configured() bool {
	return s.cfg.Configured()
}

// Send delivers msg, giving up when ctx is done.
func (s *EmailService) Send(ctx context.Context, msg EmailMessage) error {
	if !s.Configured() {
		return ErrMailNotConfigured
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[Email] send to %s failed: %v", msg.To, err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func render(name string, data any) (string, error) {
	var body bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&body, name, data); err != nil {
		return "", err
	}
	return body.String(), nil
}

// OTPEmailData fills the verification code template.
type OTPEmailData struct {
	Name             string
	Code             string
	ExpiresInMinutes int
}

// RenderOTPEmail builds the verification code email.
func RenderOTPEmail(to string, data OTPEmailData) (EmailMessage, error) {
	html, err := render("otp.html", data)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: to, Subject: "Your verification code: " + data.Code, HTML: html}, nil
}

// OrderEmailData fills the confirmation and receipt templates. Amounts are preformatted.
type OrderEmailData struct {
	OrderNumber     string
	CustomerName    string
	PlanType        string
	Material        string
	Quantity        int
	ShippingLine    string
	Subtotal        string
	AppSubscription string
	Tax             string
	Shipping        string
	Discount        string
	VoucherCode     string
	Total           string
	PaymentID       string
	PaymentMethod   string
	Date            string
}

// RenderOrderConfirmationEmail builds the order confirmation email.
func RenderOrderConfirmationEmail(to string, data OrderEmailData) (EmailMessage, error) {
	html, err := render("order_confirmation.html", data)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: to, Subject: "Order confirmed " + data.OrderNumber, HTML: html}, nil
}

// RenderReceiptEmail builds the payment receipt email.
func RenderReceiptEmail(to string, data OrderEmailData) (EmailMessage, error) {
	html, err := render("receipt.html", data)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: to, Subject: "Receipt for " + data.OrderNumber, HTML: html}, nil
}
