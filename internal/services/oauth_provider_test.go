package services

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/utils"
)

func oauthTestConfig() *config.Config {
	return &config.Config{
		SSO: config.SSOConfig{
			AutoRegister: true,
			Google: config.OAuthProviderConfig{
				Enabled:      true,
				ClientID:     "google-client-id",
				ClientSecret: "google-secret",
				RedirectURL:  "http://localhost:8080/api/auth/sso/google/callback",
				Scopes:       "openid,email,profile",
			},
			GitHub: config.OAuthProviderConfig{
				Enabled:      true,
				ClientID:     "github-client-id",
				ClientSecret: "github-secret",
				RedirectURL:  "http://localhost:8080/api/auth/sso/github/callback",
				Scopes:       "read:user,user:email",
			},
			OIDC: config.OAuthProviderConfig{
				Enabled:      true,
				ClientID:     "oidc-client-id",
				ClientSecret: "oidc-secret",
				RedirectURL:  "http://localhost:8080/api/auth/sso/oidc/callback",
				Scopes:       "openid,email,profile",
				IssuerURL:    "https://idp.example.com",
			},
		},
	}
}

func TestOAuthProviderService_BeginAuth(t *testing.T) {
	utils.ConfigureJWT("test-secret", 24)
	service := NewOAuthProviderService(oauthTestConfig())

	t.Run("builds a PKCE authorization URL", func(t *testing.T) {
		req, err := service.BeginAuth("google")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Verifier == "" {
			t.Error("expected non-empty verifier")
		}
		if req.State == "" {
			t.Error("expected non-empty state")
		}
		if !strings.Contains(req.URL, "code_challenge_method=S256") {
			t.Errorf("expected S256 challenge in URL, got %s", req.URL)
		}
		if !strings.Contains(req.URL, "state=") {
			t.Errorf("expected state parameter in URL, got %s", req.URL)
		}
	})

	t.Run("generates unique verifiers", func(t *testing.T) {
		first, err := service.BeginAuth("google")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := service.BeginAuth("google")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.Verifier == second.Verifier {
			t.Error("expected unique verifiers")
		}
	})

	t.Run("rejects disabled provider", func(t *testing.T) {
		cfg := oauthTestConfig()
		cfg.SSO.Google.Enabled = false
		disabled := NewOAuthProviderService(cfg)

		if _, err := disabled.BeginAuth("google"); err == nil {
			t.Fatal("expected error for disabled provider")
		}
	})
}

func TestOAuthProviderService_ValidateState(t *testing.T) {
	utils.ConfigureJWT("test-secret", 24)
	service := NewOAuthProviderService(oauthTestConfig())

	t.Run("round-trips the provider", func(t *testing.T) {
		req, err := service.BeginAuth("github")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		provider, err := service.ValidateState(req.State)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != "github" {
			t.Errorf("expected provider 'github', got %s", provider)
		}
	})

	t.Run("rejects tampered state", func(t *testing.T) {
		if _, err := service.ValidateState("forged-state"); err == nil {
			t.Fatal("expected error for forged state")
		}
	})
}

func TestOAuthProviderService_GetOAuthConfig(t *testing.T) {
	service := NewOAuthProviderService(oauthTestConfig())

	t.Run("returns config for google", func(t *testing.T) {
		oauthCfg, provider, err := service.GetOAuthConfig("google")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != models.AuthProviderGoogle {
			t.Errorf("expected provider google, got %s", provider)
		}
		if oauthCfg.ClientID != "google-client-id" {
			t.Errorf("expected client ID 'google-client-id', got %s", oauthCfg.ClientID)
		}
	})

	t.Run("returns config for github", func(t *testing.T) {
		_, provider, err := service.GetOAuthConfig("github")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != models.AuthProviderGitHub {
			t.Errorf("expected provider github, got %s", provider)
		}
	})

	t.Run("derives oidc endpoints from the issuer", func(t *testing.T) {
		oauthCfg, provider, err := service.GetOAuthConfig("oidc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != models.AuthProviderOIDC {
			t.Errorf("expected provider oidc, got %s", provider)
		}
		if oauthCfg.Endpoint.AuthURL != "https://idp.example.com/authorize" {
			t.Errorf("unexpected auth URL %s", oauthCfg.Endpoint.AuthURL)
		}
		if oauthCfg.Endpoint.TokenURL != "https://idp.example.com/token" {
			t.Errorf("unexpected token URL %s", oauthCfg.Endpoint.TokenURL)
		}
	})

	t.Run("returns error for unknown provider", func(t *testing.T) {
		if _, _, err := service.GetOAuthConfig("unknown"); err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})
}

func TestOAuthProviderService_ExchangeCode(t *testing.T) {
	t.Run("returns error for disabled provider", func(t *testing.T) {
		cfg := oauthTestConfig()
		cfg.SSO.Google.Enabled = false
		service := NewOAuthProviderService(cfg)

		_, err := service.ExchangeCode(context.Background(), "google", "some-code", "some-verifier")
		if err == nil {
			t.Fatal("expected error for disabled provider")
		}
	})
}

func TestOAuthProviderService_GetUserInfo(t *testing.T) {
	t.Run("returns error for unknown provider", func(t *testing.T) {
		service := NewOAuthProviderService(&config.Config{})

		_, err := service.GetUserInfo(context.Background(), "unknown", &oauth2.Token{})
		if err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})
}
