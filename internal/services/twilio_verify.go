package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/bondsnbeyond/internal/config"
)

var twilioHTTPClient = &http.Client{Timeout: 15 * time.Second}

// VerifyOutcome is the answer of an external code check.
type VerifyOutcome int

const (
	VerifyApproved VerifyOutcome = iota
	VerifyDeclined
	VerifyProviderUnavailable
)

func (o VerifyOutcome) String() string {
	switch o {
	case VerifyApproved:
		return "approved"
	case VerifyDeclined:
		return "declined"
	default:
		return "provider_unavailable"
	}
}

// SMSVerifier sends and checks phone verification codes through a provider.
type SMSVerifier interface {
	Configured() bool
	Start(ctx context.Context, phone string) error
	Check(ctx context.Context, phone, code string) (VerifyOutcome, error)
}

// TwilioVerify talks to the Twilio Verify v2 API.
type TwilioVerify struct {
	baseURL    string
	accountSID string
	authToken  string
	serviceSID string
	client     *http.Client
}

// NewTwilioVerify builds a client from configuration.
func NewTwilioVerify(cfg config.Twilio) *TwilioVerify {
	return &TwilioVerify{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		serviceSID: cfg.VerifyServiceSID,
		client:     twilioHTTPClient,
	}
}

func (t *TwilioVerify) Configured() bool {
	return t != nil && t.accountSID != "" && t.authToken != "" && t.serviceSID != ""
}

type twilioResponse struct {
	Status int
	Body   []byte
}

func (t *TwilioVerify) do(ctx context.Context, path string, form url.Values) (*twilioResponse, error) {
	if !t.Configured() {
		return nil, errors.New("twilio verify is not configured")
	}

	endpoint := fmt.Sprintf("%s/Services/%s/%s", t.baseURL, t.serviceSID, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return &twilioResponse{Status: resp.StatusCode, Body: body}, nil
}

// Start sends a new SMS verification to phone.
func (t *TwilioVerify) Start(ctx context.Context, phone string) error {
	resp, err := t.do(ctx, "Verifications", url.Values{
		"To":      {phone},
		"Channel": {"sms"},
	})
	if err != nil {
		return fmt.Errorf("twilio start verification: %w", err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("twilio start verification: status %d, body: %s", resp.Status, string(resp.Body))
	}
	return nil
}

// Check asks Twilio whether code is the one it sent to phone.
func (t *TwilioVerify) Check(ctx context.Context, phone, code string) (VerifyOutcome, error) {
	resp, err := t.do(ctx, "VerificationCheck", url.Values{
		"To":   {phone},
		"Code": {code},
	})
	if err != nil {
		return VerifyProviderUnavailable, fmt.Errorf("twilio check verification: %w", err)
	}

	switch {
	case resp.Status == http.StatusTooManyRequests || resp.Status >= 500:
		return VerifyProviderUnavailable, fmt.Errorf("twilio check verification: status %d", resp.Status)
	case resp.Status == http.StatusNotFound:
		// Twilio forgets verifications once they expire or are approved.
		return VerifyDeclined, nil
	case resp.Status < 200 || resp.Status >= 300:
		return VerifyDeclined, fmt.Errorf("twilio check verification: status %d, body: %s", resp.Status, string(resp.Body))
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return VerifyProviderUnavailable, fmt.Errorf("twilio check verification unmarshal: %w", err)
	}
	if result.Status == "approved" {
		return VerifyApproved, nil
	}
	return VerifyDeclined, nil
}
