package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bondsnbeyond/internal/config"
)

func TestRenderOTPEmail(t *testing.T) {
	msg, err := RenderOTPEmail("a@example.com", OTPEmailData{Name: "Asha", Code: "482913", ExpiresInMinutes: 10})
	require.NoError(t, err)

	assert.Equal(t, "a@example.com", msg.To)
	assert.Contains(t, msg.Subject, "482913")
	assert.Contains(t, msg.HTML, "482913")
	assert.Contains(t, msg.HTML, "Hi Asha")
	assert.Contains(t, msg.HTML, "10 minutes")
}

func TestRenderOrderEmails(t *testing.T) {
	data := OrderEmailData{
		OrderNumber:  "BNB-NFC-20250101-000001",
		CustomerName: "Meera <script>",
		Material:     "pvc",
		Quantity:     1,
		Total:        "₹69.00",
		Discount:     "₹120.00",
		VoucherCode:  "FOUNDER120",
	}

	confirmation, err := RenderOrderConfirmationEmail("m@example.com", data)
	require.NoError(t, err)
	assert.Contains(t, confirmation.Subject, data.OrderNumber)
	assert.Contains(t, confirmation.HTML, "₹69.00")
	assert.NotContains(t, confirmation.HTML, "<script>", "names are escaped")

	receipt, err := RenderReceiptEmail("m@example.com", data)
	require.NoError(t, err)
	assert.Contains(t, receipt.Subject, data.OrderNumber)
	assert.Contains(t, receipt.HTML, "FOUNDER120")
}

func TestEmailServiceNotConfigured(t *testing.T) {
	svc := NewEmailService(config.SMTP{})
	assert.False(t, svc.Configured())
	assert.ErrorIs(t, svc.Send(context.Background(), EmailMessage{To: "a@example.com"}), ErrMailNotConfigured)
}

func TestKafkaPublisherDisabledWithoutBrokers(t *testing.T) {
	pub := NewKafkaPublisher(config.Kafka{Topic: "bnb.events"})
	assert.Nil(t, pub)
	assert.NoError(t, pub.Publish(context.Background(), EventOrderCreated, "k", map[string]string{"a": "b"}))
	assert.NoError(t, pub.Close())
}
