package handlers

import (
	"net/http"
	"testing"

	"github.com/trellis/backend/internal/models"
)

func TestAuthEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("POST /api/auth/register creates user and returns token", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
			"email":     "newuser@test.com",
			"password":  "password123",
			"firstName": "New",
			"lastName":  "User",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusCreated)

		data := body["data"].(map[string]any)
		if _, ok := data["token"].(string); !ok {
			t.Fatalf("expected token in register response")
		}
		user := data["user"].(map[string]any)
		if user["email"] != "newuser@test.com" {
			t.Fatalf("expected normalized email, got %v", user["email"])
		}
	})

	t.Run("POST /api/auth/register rejects short password", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
			"email":     "short@test.com",
			"password":  "short",
			"firstName": "New",
			"lastName":  "User",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "password must be at least 8 characters")
	})

	t.Run("POST /api/auth/register rejects duplicate email", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
			"email":     "NEWUSER@test.com",
			"password":  "password123",
			"firstName": "Dup",
			"lastName":  "User",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusConflict)
		assertEnvelopeError(t, body, "email already registered")
	})

	t.Run("POST /api/auth/login succeeds with valid credentials", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "newuser@test.com",
			"password": "password123",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if _, ok := data["token"].(string); !ok {
			t.Fatalf("expected token in login response")
		}
	})

	t.Run("POST /api/auth/login rejects wrong password without detail", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "newuser@test.com",
			"password": "wrong-password",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusUnauthorized)
		assertEnvelopeError(t, body, "invalid credentials")
	})

	t.Run("POST /api/auth/login answers identically for unknown email", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "nobody@test.com",
			"password": "password123",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusUnauthorized)
		assertEnvelopeError(t, body, "invalid credentials")
	})

	t.Run("GET /api/auth/me returns the authenticated user", func(t *testing.T) {
		_, token := createTestUser(t, env.db, "me@test.com", "password123", models.UserRoleUser)
		resp := performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if data["email"] != "me@test.com" {
			t.Fatalf("expected me@test.com, got %v", data["email"])
		}
	})

	t.Run("PUT /api/auth/me updates profile fields", func(t *testing.T) {
		_, token := createTestUser(t, env.db, "update-me@test.com", "password123", models.UserRoleUser)
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/auth/me", map[string]any{
			"firstName": "Renamed",
		}, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if data["firstName"] != "Renamed" {
			t.Fatalf("expected updated first name, got %v", data["firstName"])
		}
	})

	t.Run("PUT /api/auth/password rotates the password", func(t *testing.T) {
		_, token := createTestUser(t, env.db, "rotate@test.com", "password123", models.UserRoleUser)

		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]any{
			"oldPassword": "password123",
			"newPassword": "password456",
		}, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)

		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "rotate@test.com",
			"password": "password456",
		}, nil)
		assertStatus(t, resp, http.StatusOK)

		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "rotate@test.com",
			"password": "password123",
		}, nil)
		assertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("PUT /api/auth/password rejects wrong old password", func(t *testing.T) {
		_, token := createTestUser(t, env.db, "wrong-old@test.com", "password123", models.UserRoleUser)
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]any{
			"oldPassword": "not-the-password",
			"newPassword": "password456",
		}, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "oldPassword is incorrect")
	})
}
