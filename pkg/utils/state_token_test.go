package utils

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerateStateToken(t *testing.T) {
	ConfigureJWT("test-secret", 24)

	token, err := GenerateStateToken("google")
	if err != nil {
		t.Fatalf("failed to generate state token: %v", err)
	}

	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := ValidateStateToken(token)
	if err != nil {
		t.Fatalf("failed to validate state token: %v", err)
	}

	if claims.Provider != "google" {
		t.Fatalf("expected provider google, got %s", claims.Provider)
	}

	if claims.TokenType != "oauth_state" {
		t.Fatalf("expected token type oauth_state, got %s", claims.TokenType)
	}
}

func TestValidateStateToken_RejectsGarbage(t *testing.T) {
	ConfigureJWT("test-secret", 24)

	_, err := ValidateStateToken("not-a-token")
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestValidateStateToken_RejectsOtherTokenTypes(t *testing.T) {
	ConfigureJWT("test-secret", 24)

	mfaToken, err := GenerateMFAToken(uuid.New(), "state@example.com")
	if err != nil {
		t.Fatalf("failed to generate MFA token: %v", err)
	}

	if _, err := ValidateStateToken(mfaToken); err == nil {
		t.Fatal("expected MFA token to be rejected as oauth state")
	}
}
