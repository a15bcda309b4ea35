package handlers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

// verifierCookie carries the PKCE verifier between the redirect and the
// callback. It never leaves the browser, so the code exchange cannot be
// replayed by anyone who only saw the authorization URL.
const verifierCookie = "trellis_oauth_verifier"

type SSOHandler struct {
	DB           *gorm.DB
	Cfg          *config.Config
	Audit        *services.AuditService
	SSOService   *services.SSOService
	OAuthService *services.OAuthProviderService
}

func NewSSOHandler(db *gorm.DB, cfg *config.Config, audit *services.AuditService) *SSOHandler {
	return &SSOHandler{
		DB:           db,
		Cfg:          cfg,
		Audit:        audit,
		SSOService:   services.NewSSOService(db, cfg),
		OAuthService: services.NewOAuthProviderService(cfg),
	}
}

func (h *SSOHandler) ListProviders(c *fiber.Ctx) error {
	providers := []fiber.Map{}

	if h.Cfg.SSO.Google.Enabled {
		providers = append(providers, fiber.Map{
			"name":        "google",
			"displayName": "Google",
			"type":        "oauth",
		})
	}

	if h.Cfg.SSO.GitHub.Enabled {
		providers = append(providers, fiber.Map{
			"name":        "github",
			"displayName": "GitHub",
			"type":        "oauth",
		})
	}

	if h.Cfg.SSO.OIDC.Enabled {
		providers = append(providers, fiber.Map{
			"name":        "oidc",
			"displayName": "OpenID Connect",
			"type":        "oidc",
		})
	}

	return utils.Success(c, fiber.StatusOK, providers)
}

func (h *SSOHandler) GetLoginRedirect(c *fiber.Ctx) error {
	provider := c.Params("provider")

	auth, err := h.OAuthService.BeginAuth(provider)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	c.Cookie(&fiber.Cookie{
		Name:     verifierCookie,
		Value:    auth.Verifier,
		Path:     "/api/auth/sso",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url": auth.URL,
	})
}

func (h *SSOHandler) HandleOAuthCallback(c *fiber.Ctx) error {
	provider := c.Params("provider")
	code := c.Query("code")
	state := c.Query("state")

	frontendURL := h.Cfg.Server.FrontendURL

	if code == "" {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("authorization code is required"))
	}

	// The state must be one we signed, still fresh, and issued for the
	// provider named in the URL, or the callback is someone else's.
	stateProvider, err := h.OAuthService.ValidateState(state)
	if err != nil || !strings.EqualFold(stateProvider, provider) {
		logger.Warn("oauth_state_rejected", map[string]interface{}{
			"provider": provider,
			"ip":       c.IP(),
		})
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("invalid oauth state"))
	}

	verifier := c.Cookies(verifierCookie)
	h.clearVerifierCookie(c)
	if verifier == "" {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("missing oauth verifier"))
	}

	profile, err := h.processOAuthCallback(c.Context(), provider, code, verifier)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape(err.Error()))
	}

	user, err := h.SSOService.FindOrCreateUser(c.Context(), profile)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape(err.Error()))
	}

	if UserHasTOTP(h.DB, user.ID) {
		mfaToken, err := utils.GenerateMFAToken(user.ID, user.Email)
		if err != nil {
			return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("failed to generate MFA token"))
		}
		return c.Redirect(frontendURL + "/auth/callback?mfa_required=true&mfa_token=" + url.QueryEscape(mfaToken))
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("failed to generate token"))
	}

	logger.Info("sso_login_success", map[string]interface{}{
		"user_id":  user.ID.String(),
		"email":    user.Email,
		"provider": provider,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "user.login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"email":    user.Email,
			"provider": provider,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return c.Redirect(frontendURL + "/auth/callback?token=" + token)
}

func (h *SSOHandler) processOAuthCallback(ctx context.Context, provider, code, verifier string) (*services.SSOProfile, error) {
	token, err := h.OAuthService.ExchangeCode(ctx, provider, code, verifier)
	if err != nil {
		return nil, err
	}

	return h.OAuthService.GetUserInfo(ctx, provider, token)
}

func (h *SSOHandler) clearVerifierCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     verifierCookie,
		Value:    "",
		Path:     "/api/auth/sso",
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *SSOHandler) GetLinkedAccounts(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	accounts, err := h.SSOService.GetLinkedAccounts(c.Context(), user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to get linked accounts")
	}

	return utils.Success(c, fiber.StatusOK, accounts)
}

type linkAccountRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	State    string `json:"state"`
}

func (h *SSOHandler) LinkAccount(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req linkAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	stateProvider, err := h.OAuthService.ValidateState(req.State)
	if err != nil || !strings.EqualFold(stateProvider, req.Provider) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid oauth state")
	}

	verifier := c.Cookies(verifierCookie)
	h.clearVerifierCookie(c)
	if verifier == "" {
		return utils.Error(c, fiber.StatusBadRequest, "missing oauth verifier")
	}

	profile, err := h.processOAuthCallback(c.Context(), req.Provider, req.Code, verifier)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.SSOService.LinkAccount(c.Context(), user.ID, profile); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to link account")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "account linked"})
}

func (h *SSOHandler) UnlinkAccount(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	accountID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid account id")
	}

	if err := h.SSOService.UnlinkAccount(c.Context(), user.ID, accountID); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to unlink account")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "account unlinked"})
}
