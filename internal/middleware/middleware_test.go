package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bondsnbeyond/internal/apperr"
	"github.com/example/bondsnbeyond/internal/database/dbtest"
	"github.com/example/bondsnbeyond/internal/middleware"
	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/services"
)

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestErrorHandlerRendersAppErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(false)})
	app.Get("/limited", func(c *fiber.Ctx) error {
		return apperr.RateLimit("slow down", 42*time.Second)
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return apperr.Wrap(apperr.NotFound, "order not found", errors.New("record not found"))
	})
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("connection reset")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/limited", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "42", resp.Header.Get(fiber.HeaderRetryAfter))
	body := decode(t, resp.Body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "slow down", body["error"])
	assert.Equal(t, "rate_limited", body["code"])
	assert.EqualValues(t, 42, body["retryAfter"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	body = decode(t, resp.Body)
	assert.Equal(t, "not_found", body["code"])
	assert.Equal(t, "record not found", body["details"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/fiber", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	body = decode(t, resp.Body)
	assert.Equal(t, "validation_error", body["code"])
	assert.Equal(t, "invalid request body", body["error"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body = decode(t, resp.Body)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, "connection reset", body["details"])
}

func TestErrorHandlerHidesDetailsInProduction(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(true)})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return apperr.Wrap(apperr.Internal, "failed to store order", errors.New("pq: deadlock detected"))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	body := decode(t, resp.Body)
	assert.Equal(t, "failed to store order", body["error"])
	assert.NotContains(t, body, "details")
}

func newAuthApp(t *testing.T) (*fiber.App, *services.SessionService, *models.User, *models.User) {
	t.Helper()
	db := dbtest.Open(t)
	sessions := services.NewSessionService(db, "test-secret")

	customer := &models.User{Email: "asha@example.com", Role: models.RoleCustomer, Status: models.UserStatusActive}
	admin := &models.User{Email: "ops@example.com", Role: models.RoleAdmin, Status: models.UserStatusActive}
	require.NoError(t, db.Create(customer).Error)
	require.NoError(t, db.Create(admin).Error)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(false)})
	protected := app.Group("/api", middleware.AuthMiddleware(sessions))
	protected.Get("/me", func(c *fiber.Ctx) error {
		id, ok := middleware.GetCurrentUserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		return c.JSON(fiber.Map{"user_id": id.String()})
	})
	protected.Get("/admin", middleware.RequireRole(models.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app, sessions, customer, admin
}

func TestAuthMiddlewareAcceptsCookieAndBearer(t *testing.T) {
	app, sessions, customer, _ := newAuthApp(t)
	issued, err := sessions.Create(context.Background(), customer, time.Hour, services.SessionMeta{})
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodGet, "/api/me", nil)
	req.Header.Set("Cookie", middleware.SessionCookie+"="+issued.Token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, customer.ID.String(), decode(t, resp.Body)["user_id"])

	req = httptest.NewRequest(fiber.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, customer.ID.String(), decode(t, resp.Body)["user_id"])
}

func TestAuthMiddlewareRejects(t *testing.T) {
	app, _, _, _ := newAuthApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/api/me", nil)
	req.Header.Set("Cookie", middleware.SessionCookie+"=not-a-session")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode(t, resp.Body)["code"])
}

func TestRequireRole(t *testing.T) {
	app, sessions, customer, admin := newAuthApp(t)
	ctx := context.Background()

	customerSession, err := sessions.Create(ctx, customer, time.Hour, services.SessionMeta{})
	require.NoError(t, err)
	adminSession, err := sessions.Create(ctx, admin, time.Hour, services.SessionMeta{})
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+customerSession.AccessToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminSession.AccessToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
