package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandler_Register(t *testing.T) {
	t.Run("valid registration returns the profile", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)

		rec := postJSON(t, handler.Register, "/auth/register",
			`{"email":"alice@example.com","password":"secret password","display_name":"Alice"}`)

		require.Equal(t, http.StatusCreated, rec.Code)

		var body userPayload
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "alice@example.com", body.Email)
		assert.Equal(t, "Alice", body.DisplayName)
		assert.NotContains(t, rec.Body.String(), "password")
	})

	t.Run("duplicate email returns 409", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		rec := postJSON(t, handler.Register, "/auth/register",
			`{"email":"alice@example.com","password":"secret password","display_name":"Alice"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation failures return 400", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)

		cases := map[string]string{
			"bad email":      `{"email":"not-an-email","password":"secret password","display_name":"Alice"}`,
			"short password": `{"email":"alice@example.com","password":"short","display_name":"Alice"}`,
			"short name":     `{"email":"alice@example.com","password":"secret password","display_name":"A"}`,
			"unknown field":  `{"email":"alice@example.com","password":"secret password","display_name":"Alice","admin":true}`,
			"not json":       `not json`,
		}
		for name, body := range cases {
			rec := postJSON(t, handler.Register, "/auth/register", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})
}

func TestHandler_Login(t *testing.T) {
	t.Run("valid login returns tokens and the user", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		rec := postJSON(t, handler.Login, "/auth/login",
			`{"email":"alice@example.com","password":"secret password"}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var body loginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.AccessToken)
		assert.NotEmpty(t, body.RefreshToken)
		assert.Equal(t, "Bearer", body.TokenType)
		assert.Equal(t, "alice@example.com", body.User.Email)
	})

	t.Run("bad credentials return uniform 401", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		wrongPassword := postJSON(t, handler.Login, "/auth/login",
			`{"email":"alice@example.com","password":"wrong password"}`)
		unknownEmail := postJSON(t, handler.Login, "/auth/login",
			`{"email":"nobody@example.com","password":"secret password"}`)

		assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
		assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
		assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	})

	t.Run("rate limited login returns 429 with headers", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{LoginRateLimit: 1, LoginRateWindow: time.Minute})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		first := postJSON(t, handler.Login, "/auth/login",
			`{"email":"alice@example.com","password":"secret password"}`)
		require.Equal(t, http.StatusOK, first.Code)

		second := postJSON(t, handler.Login, "/auth/login",
			`{"email":"alice@example.com","password":"secret password"}`)

		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.NotEmpty(t, second.Header().Get("Retry-After"))
		assert.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	})
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	t.Run("refresh rotates and the old token gets 401 afterwards", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		login := postJSON(t, handler.Login, "/auth/login",
			`{"email":"alice@example.com","password":"secret password"}`)
		require.Equal(t, http.StatusOK, login.Code)

		var tokens loginResponse
		require.NoError(t, json.Unmarshal(login.Body.Bytes(), &tokens))

		first := postJSON(t, handler.Refresh, "/auth/refresh",
			`{"refresh_token":"`+tokens.RefreshToken+`"}`)
		require.Equal(t, http.StatusOK, first.Code)

		second := postJSON(t, handler.Refresh, "/auth/refresh",
			`{"refresh_token":"`+tokens.RefreshToken+`"}`)
		assert.Equal(t, http.StatusUnauthorized, second.Code)
	})

	t.Run("logout always returns 204", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		login := postJSON(t, handler.Login, "/auth/login",
			`{"email":"alice@example.com","password":"secret password"}`)
		require.Equal(t, http.StatusOK, login.Code)

		var tokens loginResponse
		require.NoError(t, json.Unmarshal(login.Body.Bytes(), &tokens))

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		rec := httptest.NewRecorder()
		handler.Logout(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		// Logout with a garbage token is still a 204.
		garbage := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		garbage.Header.Set("Authorization", "Bearer not.a.token")
		garbageRec := httptest.NewRecorder()
		handler.Logout(garbageRec, garbage)
		assert.Equal(t, http.StatusNoContent, garbageRec.Code)
	})
}

func TestHandler_PasswordReset(t *testing.T) {
	t.Run("request gives the same 202 for known and unknown emails", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		known := postJSON(t, handler.RequestPasswordReset, "/auth/password-reset/request",
			`{"email":"alice@example.com"}`)
		unknown := postJSON(t, handler.RequestPasswordReset, "/auth/password-reset/request",
			`{"email":"nobody@example.com"}`)

		assert.Equal(t, http.StatusAccepted, known.Code)
		assert.Equal(t, http.StatusAccepted, unknown.Code)
		assert.Equal(t, known.Body.String(), unknown.Body.String())
	})

	t.Run("confirm with the issued token succeeds once", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)
		fx.register(t, "alice@example.com", "secret password")

		rec := postJSON(t, handler.RequestPasswordReset, "/auth/password-reset/request",
			`{"email":"alice@example.com"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, fx.sink.tokens, 1)

		confirm := postJSON(t, handler.ConfirmPasswordReset, "/auth/password-reset/confirm",
			`{"token":"`+fx.sink.tokens[0]+`","new_password":"new password!"}`)
		assert.Equal(t, http.StatusNoContent, confirm.Code)

		replay := postJSON(t, handler.ConfirmPasswordReset, "/auth/password-reset/confirm",
			`{"token":"`+fx.sink.tokens[0]+`","new_password":"another password"}`)
		assert.Equal(t, http.StatusUnauthorized, replay.Code)
	})

	t.Run("confirm with a short password returns 400", func(t *testing.T) {
		fx := newTestService(t, ServiceConfig{})
		handler := NewHandler(fx.service)

		rec := postJSON(t, handler.ConfirmPasswordReset, "/auth/password-reset/confirm",
			`{"token":"whatever","new_password":"short"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
