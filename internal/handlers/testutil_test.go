package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-encryption-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Workspace{},
		&models.Member{},
		&models.Invitation{},
		&models.Project{},
		&models.Issue{},
		&models.Document{},
		&models.Page{},
		&models.Share{},
		&models.Attachment{},
		&models.APIToken{},
		&models.MFAConfig{},
		&models.LinkedAccount{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	accessService := services.NewAccessService(db)
	auditService := services.NewAuditService(db, nil)
	renderService := services.NewRenderService()

	cfg := &config.Config{
		Server: config.ServerConfig{
			FrontendURL: "http://localhost:3000",
		},
		SSO: config.SSOConfig{
			AutoRegister: true,
			GitHub: config.OAuthProviderConfig{
				Enabled:      true,
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
				RedirectURL:  "http://localhost:8080/api/auth/sso/oauth/github/callback",
				Scopes:       "read:user,user:email",
			},
		},
		Invitation: config.InvitationConfig{
			Expiry: 168 * time.Hour,
		},
	}
	mailerService := services.NewMailerService(cfg.Mail, cfg.Server.FrontendURL)

	authHandler := NewAuthHandler(db, auditService)
	mfaHandler := NewMFAHandler(db, auditService)
	apiTokenHandler := NewAPITokenHandler(db, auditService)
	ssoHandler := NewSSOHandler(db, cfg, auditService)
	workspacesHandler := NewWorkspacesHandler(db, auditService)
	membersHandler := NewMembersHandler(db, auditService)
	invitationsHandler := NewInvitationsHandler(db, auditService, mailerService, cfg.Invitation)
	projectsHandler := NewProjectsHandler(db, accessService, auditService)
	issuesHandler := NewIssuesHandler(db, accessService, auditService)
	documentsHandler := NewDocumentsHandler(db, accessService, auditService, renderService)
	pagesHandler := NewPagesHandler(db, accessService, auditService, renderService)
	sharesHandler := NewSharesHandler(db, accessService, auditService)
	attachmentsHandler := NewAttachmentsHandler(db, nil, accessService, auditService)
	auditHandler := NewAuditHandler(db)
	authMiddleware := middleware.NewAuthMiddleware(db)
	workspaceMiddleware := middleware.NewWorkspaceMiddleware(db, accessService)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, authHandler.UpdateMe)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	mfaRoutes := api.Group("/auth/mfa")
	mfaRoutes.Get("/status", authMiddleware.RequireAuth, mfaHandler.Status)
	mfaRoutes.Post("/totp/setup", authMiddleware.RequireAuth, mfaHandler.TOTPSetup)
	mfaRoutes.Post("/totp/verify", authMiddleware.RequireAuth, mfaHandler.TOTPVerifySetup)
	mfaRoutes.Post("/totp/disable", authMiddleware.RequireAuth, mfaHandler.TOTPDisable)
	mfaRoutes.Post("/verify", mfaHandler.VerifyTOTP)
	mfaRoutes.Post("/verify-recovery", mfaHandler.VerifyRecovery)
	mfaRoutes.Post("/recovery/regenerate", authMiddleware.RequireAuth, mfaHandler.RegenerateRecovery)

	tokenRoutes := api.Group("/auth/tokens", authMiddleware.RequireAuth)
	tokenRoutes.Post("/", apiTokenHandler.Create)
	tokenRoutes.Get("/", apiTokenHandler.List)
	tokenRoutes.Delete("/:id", apiTokenHandler.Revoke)

	ssoRoutes := api.Group("/auth/sso")
	ssoRoutes.Get("/providers", ssoHandler.ListProviders)
	ssoRoutes.Get("/oauth/:provider", ssoHandler.GetLoginRedirect)
	ssoRoutes.Get("/oauth/:provider/callback", ssoHandler.HandleOAuthCallback)

	ssoProtectedRoutes := api.Group("/auth/sso", authMiddleware.RequireAuth)
	ssoProtectedRoutes.Post("/link", ssoHandler.LinkAccount)
	ssoProtectedRoutes.Get("/linked-accounts", ssoHandler.GetLinkedAccounts)
	ssoProtectedRoutes.Delete("/linked-accounts/:id", ssoHandler.UnlinkAccount)

	workspaceRoutes := api.Group("/workspaces", authMiddleware.RequireAuth)
	workspaceRoutes.Post("/", workspacesHandler.Create)
	workspaceRoutes.Get("/", workspacesHandler.List)

	wsRoutes := workspaceRoutes.Group("/:slug", workspaceMiddleware.RequireMembership)
	wsRoutes.Get("/", workspacesHandler.Get)
	wsRoutes.Put("/", workspacesHandler.Update)
	wsRoutes.Delete("/", workspacesHandler.Delete)

	wsRoutes.Get("/members", membersHandler.List)
	wsRoutes.Put("/members/:id", membersHandler.UpdateRole)
	wsRoutes.Delete("/members/:id", membersHandler.Deactivate)

	wsRoutes.Post("/invitations", invitationsHandler.Create)
	wsRoutes.Get("/invitations", invitationsHandler.List)
	wsRoutes.Delete("/invitations/:id", invitationsHandler.Revoke)
	api.Post("/invitations/accept", authMiddleware.RequireAuth, invitationsHandler.Accept)

	wsRoutes.Post("/projects", projectsHandler.Create)
	wsRoutes.Get("/projects", projectsHandler.List)
	wsRoutes.Get("/projects/:id", projectsHandler.Get)
	wsRoutes.Put("/projects/:id", projectsHandler.Update)
	wsRoutes.Delete("/projects/:id", projectsHandler.Delete)

	wsRoutes.Post("/projects/:projectId/issues", issuesHandler.Create)
	wsRoutes.Get("/projects/:projectId/issues", issuesHandler.List)
	wsRoutes.Get("/projects/:projectId/issues/:id", issuesHandler.Get)
	wsRoutes.Put("/projects/:projectId/issues/:id", issuesHandler.Update)
	wsRoutes.Delete("/projects/:projectId/issues/:id", issuesHandler.Delete)

	wsRoutes.Post("/documents", documentsHandler.Create)
	wsRoutes.Get("/documents", documentsHandler.List)
	wsRoutes.Get("/documents/:id", documentsHandler.Get)
	wsRoutes.Put("/documents/:id", documentsHandler.Update)
	wsRoutes.Delete("/documents/:id", documentsHandler.Delete)
	wsRoutes.Post("/documents/:id/lock", documentsHandler.Lock)
	wsRoutes.Delete("/documents/:id/lock", documentsHandler.Unlock)
	wsRoutes.Get("/documents/:id/render", documentsHandler.RenderBody)
	wsRoutes.Post("/documents/:id/shares", sharesHandler.Create(models.ShareResourceDocument))
	wsRoutes.Get("/documents/:id/shares", sharesHandler.List(models.ShareResourceDocument))
	wsRoutes.Put("/documents/:id/shares/:shareId", sharesHandler.Update(models.ShareResourceDocument))
	wsRoutes.Delete("/documents/:id/shares/:shareId", sharesHandler.Revoke(models.ShareResourceDocument))
	wsRoutes.Post("/documents/:id/attachments", attachmentsHandler.Upload)
	wsRoutes.Get("/documents/:id/attachments", attachmentsHandler.List)
	wsRoutes.Get("/documents/:id/attachments/:attachmentId/download", attachmentsHandler.Download)
	wsRoutes.Delete("/documents/:id/attachments/:attachmentId", attachmentsHandler.Delete)

	wsRoutes.Post("/pages", pagesHandler.Create)
	wsRoutes.Get("/pages", pagesHandler.List)
	wsRoutes.Get("/pages/:id", pagesHandler.Get)
	wsRoutes.Put("/pages/:id", pagesHandler.Update)
	wsRoutes.Delete("/pages/:id", pagesHandler.Delete)
	wsRoutes.Post("/pages/:id/lock", pagesHandler.Lock)
	wsRoutes.Delete("/pages/:id/lock", pagesHandler.Unlock)
	wsRoutes.Get("/pages/:id/render", pagesHandler.RenderBody)
	wsRoutes.Post("/pages/:id/shares", sharesHandler.Create(models.ShareResourcePage))
	wsRoutes.Get("/pages/:id/shares", sharesHandler.List(models.ShareResourcePage))
	wsRoutes.Put("/pages/:id/shares/:shareId", sharesHandler.Update(models.ShareResourcePage))
	wsRoutes.Delete("/pages/:id/shares/:shareId", sharesHandler.Revoke(models.ShareResourcePage))

	wsRoutes.Get("/audit-log", auditHandler.Query)
	wsRoutes.Get("/audit-log/export", auditHandler.Export)

	return &testEnv{app: app, db: db}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

// createTestWorkspace creates a workspace with the owner as its first
// active admin member, matching what the create handler does.
func createTestWorkspace(t *testing.T, db *gorm.DB, slug string, owner *models.User) *models.Workspace {
	t.Helper()

	workspace := &models.Workspace{
		Name:    slug,
		Slug:    slug,
		OwnerID: owner.ID,
	}
	if err := db.Create(workspace).Error; err != nil {
		t.Fatalf("failed creating test workspace: %v", err)
	}

	member := &models.Member{
		UserID:      owner.ID,
		WorkspaceID: workspace.ID,
		Role:        models.RoleAdmin,
		IsActive:    true,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("failed creating owner membership: %v", err)
	}

	return workspace
}

func addTestMember(t *testing.T, db *gorm.DB, workspace *models.Workspace, user *models.User, role models.MemberRole) *models.Member {
	t.Helper()

	member := &models.Member{
		UserID:      user.ID,
		WorkspaceID: workspace.ID,
		Role:        role,
		IsActive:    true,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("failed creating test member: %v", err)
	}
	return member
}

func createTestDocument(t *testing.T, db *gorm.DB, workspace *models.Workspace, owner *models.User, access models.AccessLevel) *models.Document {
	t.Helper()

	doc := &models.Document{
		WorkspaceID: workspace.ID,
		OwnerID:     owner.ID,
		Title:       "Test Document",
		Body:        "# Heading\n\nbody text",
		Access:      access,
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("failed creating test document: %v", err)
	}
	return doc
}

func createTestPage(t *testing.T, db *gorm.DB, workspace *models.Workspace, owner *models.User, access models.AccessLevel) *models.Page {
	t.Helper()

	page := &models.Page{
		WorkspaceID: workspace.ID,
		OwnerID:     owner.ID,
		Title:       "Test Page",
		Body:        "wiki body",
		Access:      access,
	}
	if err := db.Create(page).Error; err != nil {
		t.Fatalf("failed creating test page: %v", err)
	}
	return page
}

func createTestShare(t *testing.T, db *gorm.DB, kind models.ShareResourceKind, resourceID uuid.UUID, workspace *models.Workspace, user *models.User, permission models.SharePermission, createdBy *models.User) *models.Share {
	t.Helper()

	share := &models.Share{
		ResourceKind: kind,
		ResourceID:   resourceID,
		WorkspaceID:  workspace.ID,
		UserID:       user.ID,
		Permission:   permission,
		CreatedByID:  createdBy.ID,
	}
	if err := db.Create(share).Error; err != nil {
		t.Fatalf("failed creating test share: %v", err)
	}
	return share
}

// waitForAuditRow polls for an asynchronously written audit entry.
func waitForAuditRow(t *testing.T, db *gorm.DB, action string) *models.AuditLog {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var entry models.AuditLog
		if err := db.First(&entry, "action = ?", action).Error; err == nil {
			return &entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no audit row with action %q appeared", action)
	return nil
}

func auditRowCount(t *testing.T, db *gorm.DB, action string) int64 {
	t.Helper()

	// Drains the async pipeline before counting.
	time.Sleep(50 * time.Millisecond)
	var count int64
	if err := db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&count).Error; err != nil {
		t.Fatalf("failed counting audit rows: %v", err)
	}
	return count
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func assertDenied(t *testing.T, resp *http.Response) {
	t.Helper()
	assertStatus(t, resp, fiber.StatusForbidden)
	body := decodeJSONMap(t, resp)
	assertEnvelopeError(t, body, "access denied")
}
