package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/utils"
)

const sessionTokenBytes = 32

// SessionMeta describes the client a session was issued to.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// IssuedSession is a freshly created session. Token is only available here.
type IssuedSession struct {
	Token       string
	AccessToken string
	ExpiresAt   time.Time
	Session     *models.Session
}

// SessionService issues and resolves login sessions.
type SessionService struct {
	db     *gorm.DB
	secret string
	now    func() time.Time
}

// NewSessionService constructs SessionService.
func NewSessionService(db *gorm.DB, jwtSecret string) *SessionService {
	return &SessionService{db: db, secret: jwtSecret, now: time.Now}
}

// SetClock replaces the time source.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new session for user valid for ttl.
func (s *SessionService) Create(ctx context.Context, user *models.User, ttl time.Duration, meta SessionMeta) (*IssuedSession, error) {
	token, err := utils.RandomToken(sessionTokenBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to generate session", err)
	}

	session := models.Session{
		TokenHash: utils.HashToken(token),
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		ExpiresAt: s.now().Add(ttl),
		UserAgent: truncate(meta.UserAgent, 255),
		IPAddress: meta.IPAddress,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to store session", err)
	}

	access, err := utils.GenerateToken(s.secret, user.ID, session.ID, user.Role, session.ExpiresAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to generate token", err)
	}

	return &IssuedSession{Token: token, AccessToken: access, ExpiresAt: session.ExpiresAt, Session: &session}, nil
}

// Resolve returns the live session for a cookie token.
func (s *SessionService) Resolve(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, apperr.New(apperr.Unauthorized, "not signed in")
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("token_hash = ?", utils.HashToken(token)).First(&session).Error
	return s.check(ctx, &session, err)
}

// ResolveAccessToken returns the live session behind a bearer JWT.
func (s *SessionService) ResolveAccessToken(ctx context.Context, accessToken string) (*models.Session, error) {
	claims, err := utils.ParseToken(s.secret, accessToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid token", err)
	}
	sessionID, err := claims.SessionID()
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid token", err)
	}

	var session models.Session
	err = s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	return s.check(ctx, &session, err)
}

func (s *SessionService) check(ctx context.Context, session *models.Session, err error) (*models.Session, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.Unauthorized, "session not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load session", err)
	}

	if !s.now().Before(session.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", session.ID)
		return nil, apperr.New(apperr.Unauthorized, "session expired")
	}
	return session, nil
}

// Revoke deletes the session behind a cookie token.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token_hash = ?", utils.HashToken(token)).Delete(&models.Session{}).Error
}

// RevokeByID deletes a session by id.
func (s *SessionService) RevokeByID(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", id).Error
}

// PruneExpired deletes every expired session.
func (s *SessionService) PruneExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
