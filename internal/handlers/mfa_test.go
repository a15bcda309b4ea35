package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/trellis/backend/internal/models"
)

func TestMFAFlow(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "mfa-user@test.com", "password123", models.UserRoleUser)

	var secret string
	var recoveryCodes []string

	t.Run("GET /api/auth/mfa/status starts disabled", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/auth/mfa/status", nil, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if data["totpEnabled"] != false {
			t.Fatalf("expected TOTP disabled")
		}
	})

	t.Run("POST /api/auth/mfa/totp/setup returns a secret", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/setup", nil, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		secret = data["secret"].(string)
		if secret == "" {
			t.Fatalf("expected a TOTP secret")
		}
		if data["qrUri"] == "" {
			t.Fatalf("expected a provisioning URI")
		}
	})

	t.Run("POST /api/auth/mfa/totp/verify rejects a wrong code", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/verify", map[string]any{
			"code": "000000",
		}, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "invalid TOTP code")
	})

	t.Run("POST /api/auth/mfa/totp/verify enables TOTP and issues recovery codes", func(t *testing.T) {
		code, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatalf("failed generating code: %v", err)
		}

		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/verify", map[string]any{
			"code": code,
		}, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		for _, c := range body["data"].(map[string]any)["recoveryCodes"].([]any) {
			recoveryCodes = append(recoveryCodes, c.(string))
		}
		if len(recoveryCodes) != 10 {
			t.Fatalf("expected 10 recovery codes, got %d", len(recoveryCodes))
		}

		resp = performRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/setup", nil, authHeaders(token))
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusConflict)
		assertEnvelopeError(t, body, "TOTP is already enabled")
	})

	t.Run("login now requires the TOTP challenge", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "mfa-user@test.com",
			"password": "password123",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if data["mfaRequired"] != true {
			t.Fatalf("expected mfaRequired")
		}
		if _, issued := data["token"]; issued {
			t.Fatalf("no session token before the challenge")
		}
		mfaToken := data["mfaToken"].(string)

		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/verify", map[string]any{
			"mfaToken": mfaToken,
			"code":     "000000",
		}, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusUnauthorized)
		assertEnvelopeError(t, body, "invalid TOTP code")

		code, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatalf("failed generating code: %v", err)
		}
		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/verify", map[string]any{
			"mfaToken": mfaToken,
			"code":     code,
		}, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		sessionToken := body["data"].(map[string]any)["token"].(string)
		resp = performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, authHeaders(sessionToken))
		assertStatus(t, resp, http.StatusOK)

		// The challenge token is single use.
		code2, _ := totp.GenerateCode(secret, time.Now())
		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/verify", map[string]any{
			"mfaToken": mfaToken,
			"code":     code2,
		}, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusUnauthorized)
		assertEnvelopeError(t, body, "MFA token already used")
	})

	t.Run("a recovery code completes the challenge once", func(t *testing.T) {
		login := func() string {
			resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
				"email":    "mfa-user@test.com",
				"password": "password123",
			}, nil)
			body := decodeJSONMap(t, resp)
			assertStatus(t, resp, http.StatusOK)
			return body["data"].(map[string]any)["mfaToken"].(string)
		}

		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/verify-recovery", map[string]any{
			"mfaToken": login(),
			"code":     recoveryCodes[0],
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if body["data"].(map[string]any)["token"] == "" {
			t.Fatalf("expected a session token")
		}

		var mfaCfg models.MFAConfig
		if err := env.db.First(&mfaCfg, "user_id = ?", user.ID).Error; err != nil {
			t.Fatalf("failed loading MFA config: %v", err)
		}
		if mfaCfg.RecoveryCount != 9 {
			t.Fatalf("expected 9 codes remaining, got %d", mfaCfg.RecoveryCount)
		}

		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/verify-recovery", map[string]any{
			"mfaToken": login(),
			"code":     recoveryCodes[0],
		}, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusUnauthorized)
		assertEnvelopeError(t, body, "invalid recovery code")
	})

	t.Run("POST /api/auth/mfa/recovery/regenerate replaces the set", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/recovery/regenerate", map[string]any{
			"password": "password123",
		}, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		if codes := body["data"].(map[string]any)["recoveryCodes"].([]any); len(codes) != 10 {
			t.Fatalf("expected a fresh set of 10 codes, got %d", len(codes))
		}
	})

	t.Run("POST /api/auth/mfa/totp/disable needs the password", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/disable", map[string]any{
			"password": "wrong-password",
		}, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "invalid password")

		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/disable", map[string]any{
			"password": "password123",
		}, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)

		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "mfa-user@test.com",
			"password": "password123",
		}, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if _, challenged := body["data"].(map[string]any)["mfaRequired"]; challenged {
			t.Fatalf("expected a plain login after disabling TOTP")
		}
	})
}
