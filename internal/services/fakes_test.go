package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/config"
	"github.com/example/bondsnbeyond/internal/database/dbtest"
	"github.com/example/bondsnbeyond/internal/guard"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:      "development",
		JWTSecret:        "test-secret",
		SessionTTL:       30 * 24 * time.Hour,
		MobileSessionTTL: 7 * 24 * time.Hour,
		DefaultRegion:    "IN",
		OrderPendingTTL:  72 * time.Hour,
		OTP: config.OTP{
			TTL:         10 * time.Minute,
			Cooldown:    60 * time.Second,
			LockTTL:     10 * time.Second,
			MaxAttempts: 5,
		},
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubMailer struct {
	mu         sync.Mutex
	configured bool
	err        error
	sent       []EmailMessage
}

func (m *stubMailer) Configured() bool { return m.configured }

func (m *stubMailer) Send(_ context.Context, msg EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMailer) Sent() []EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmailMessage(nil), m.sent...)
}

type stubSMS struct {
	configured bool
	startErr   error
	outcome    VerifyOutcome
	started    []string
}

func (s *stubSMS) Configured() bool { return s.configured }

func (s *stubSMS) Start(_ context.Context, phone string) error {
	s.started = append(s.started, phone)
	return s.startErr
}

func (s *stubSMS) Check(_ context.Context, _, _ string) (VerifyOutcome, error) {
	if s.outcome == VerifyProviderUnavailable {
		return s.outcome, errors.New("provider down")
	}
	return s.outcome, nil
}

type publishedEvent struct {
	Type string
	Key  string
	Data any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, key string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Key: key, Data: data})
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type stubNotifier struct {
	notified []OrderNotification
}

func (n *stubNotifier) NotifyOrderConfirmed(_ context.Context, order OrderNotification) error {
	n.notified = append(n.notified, order)
	return nil
}

type otpFixture struct {
	db     *gorm.DB
	cfg    *config.Config
	clock  *testClock
	mailer *stubMailer
	sms    *stubSMS
	events *recordingPublisher
	svc    *OTPService
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()

	f := &otpFixture{
		db:     dbtest.Open(t),
		cfg:    testConfig(),
		clock:  newTestClock(),
		mailer: &stubMailer{configured: true},
		sms:    &stubSMS{},
		events: &recordingPublisher{},
	}

	sessions := NewSessionService(f.db, f.cfg.JWTSecret)
	sessions.SetClock(f.clock.Now)

	f.svc = NewOTPService(f.db, f.cfg, guard.NewMemoryWithClock(f.clock.Now), f.mailer, f.sms, sessions, f.events)
	f.svc.SetClock(f.clock.Now)
	return f
}
