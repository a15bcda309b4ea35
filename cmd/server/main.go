package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/database"
	"github.com/trellis/backend/internal/handlers"
	"github.com/trellis/backend/internal/middleware"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/internal/storage"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.Encryption.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	// Attachment upload and audit export answer 503 / stay disabled
	// without object storage, so a failed MinIO setup is not fatal.
	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		logger.Warn("storage_unavailable", map[string]interface{}{
			"endpoint": cfg.MinIO.Endpoint,
			"error":    err.Error(),
		})
		storageClient = nil
	} else {
		bucketCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := storageClient.EnsureBucket(bucketCtx); err != nil {
			logger.Warn("storage_unavailable", map[string]interface{}{
				"endpoint": cfg.MinIO.Endpoint,
				"bucket":   cfg.MinIO.Bucket,
				"error":    err.Error(),
			})
			storageClient = nil
		}
		cancel()
	}

	accessService := services.NewAccessService(db)
	renderService := services.NewRenderService()
	auditService := services.NewAuditService(db, storageClient)
	mailerService := services.NewMailerService(cfg.Mail, cfg.Server.FrontendURL)
	maintenanceService := services.NewMaintenanceService(db, cfg.Maintenance)

	if err := maintenanceService.Start(); err != nil {
		log.Fatalf("maintenance scheduler failed: %v", err)
	}
	auditService.StartExporter(cfg.Audit.ExportInterval)

	authHandler := handlers.NewAuthHandler(db, auditService)
	mfaHandler := handlers.NewMFAHandler(db, auditService)
	apiTokenHandler := handlers.NewAPITokenHandler(db, auditService)
	ssoHandler := handlers.NewSSOHandler(db, cfg, auditService)
	workspacesHandler := handlers.NewWorkspacesHandler(db, auditService)
	membersHandler := handlers.NewMembersHandler(db, auditService)
	invitationsHandler := handlers.NewInvitationsHandler(db, auditService, mailerService, cfg.Invitation)
	projectsHandler := handlers.NewProjectsHandler(db, accessService, auditService)
	issuesHandler := handlers.NewIssuesHandler(db, accessService, auditService)
	documentsHandler := handlers.NewDocumentsHandler(db, accessService, auditService, renderService)
	pagesHandler := handlers.NewPagesHandler(db, accessService, auditService, renderService)
	sharesHandler := handlers.NewSharesHandler(db, accessService, auditService)
	attachmentsHandler := handlers.NewAttachmentsHandler(db, storageClient, accessService, auditService)
	auditHandler := handlers.NewAuditHandler(db)

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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"storage": storageClient != nil,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		maintenanceService.Stop()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
