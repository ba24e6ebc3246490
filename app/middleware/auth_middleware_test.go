package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/app/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthTestApp(t *testing.T) (*fiber.App, services.TokenService) {
	t.Helper()
	tokens, err := services.NewTokenService(time.Minute, "iss", "aud", "HS256", "middleware-test-secret-with-enough-length")
	require.NoError(t, err)

	auth := NewAuthMiddleware(tokens)
	app := fiber.New()
	app.Get("/me", auth.Authenticate(), func(c fiber.Ctx) error {
		companyID, _ := GetCompanyIDFromContext(c)
		userID, _ := GetUserIDFromContext(c)
		return c.JSON(fiber.Map{"company_id": companyID, "user_id": userID})
	})
	app.Get("/admin", auth.Authenticate(), auth.RequireAdmin(), func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app, tokens
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	app, tokens := newAuthTestApp(t)

	valid, err := tokens.GenerateAccessToken(5, 9, services.RoleUser)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{name: "missing header", header: "", status: fiber.StatusUnauthorized, code: "MISSING_AUTHORIZATION_HEADER"},
		{name: "wrong scheme", header: "Basic abc", status: fiber.StatusUnauthorized, code: "INVALID_AUTHORIZATION_FORMAT"},
		{name: "garbage token", header: "Bearer abc.def.ghi", status: fiber.StatusUnauthorized, code: "TOKEN_INVALID"},
		{name: "valid token", header: "Bearer " + valid, status: fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.code != "" {
				var body dto.APIResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				detail, ok := body.Error.(map[string]any)
				require.True(t, ok)
				assert.Equal(t, tt.code, detail["code"])
				return
			}

			var claims struct {
				CompanyID uint `json:"company_id"`
				UserID    uint `json:"user_id"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&claims))
			assert.Equal(t, uint(5), claims.CompanyID)
			assert.Equal(t, uint(9), claims.UserID)
		})
	}
}

func TestAuthMiddleware_RequireAdmin(t *testing.T) {
	app, tokens := newAuthTestApp(t)

	user, err := tokens.GenerateAccessToken(1, 1, services.RoleUser)
	require.NoError(t, err)
	admin, err := tokens.GenerateAccessToken(1, 2, services.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
