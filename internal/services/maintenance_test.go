package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/models"
)

func setupMaintenanceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Workspace{},
		&models.Member{},
		&models.Invitation{},
		&models.Document{},
		&models.Page{},
		&models.Share{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func maintenanceTestConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		Schedule:       "@hourly",
		LockTTL:        24 * time.Hour,
		ShareRetention: 720 * time.Hour,
	}
}

func TestMaintenanceService_ExpireInvitations(t *testing.T) {
	db := setupMaintenanceTestDB(t)
	svc := NewMaintenanceService(db, maintenanceTestConfig())

	owner := createAccessTestUser(t, db, "owner@maintenance.test")
	workspace := &models.Workspace{Name: "Acme", Slug: "acme-maint", OwnerID: owner.ID}
	if err := db.Create(workspace).Error; err != nil {
		t.Fatalf("failed creating workspace: %v", err)
	}

	stale := &models.Invitation{
		WorkspaceID: workspace.ID,
		Email:       "late@example.com",
		Role:        models.RoleMember,
		Token:       "stale-token",
		Status:      models.InvitationStatusPending,
		ExpiresAt:   time.Now().Add(-time.Hour),
		InvitedByID: owner.ID,
	}
	fresh := &models.Invitation{
		WorkspaceID: workspace.ID,
		Email:       "ontime@example.com",
		Role:        models.RoleMember,
		Token:       "fresh-token",
		Status:      models.InvitationStatusPending,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
		InvitedByID: owner.ID,
	}
	for _, inv := range []*models.Invitation{stale, fresh} {
		if err := db.Create(inv).Error; err != nil {
			t.Fatalf("failed creating invitation: %v", err)
		}
	}

	svc.ExpireInvitations()

	var got models.Invitation
	if err := db.First(&got, "id = ?", stale.ID).Error; err != nil {
		t.Fatalf("failed reloading stale invitation: %v", err)
	}
	if got.Status != models.InvitationStatusExpired {
		t.Errorf("expected stale invitation to be expired, got %s", got.Status)
	}

	if err := db.First(&got, "id = ?", fresh.ID).Error; err != nil {
		t.Fatalf("failed reloading fresh invitation: %v", err)
	}
	if got.Status != models.InvitationStatusPending {
		t.Errorf("expected fresh invitation to stay pending, got %s", got.Status)
	}
}

func TestMaintenanceService_PurgeRevokedShares(t *testing.T) {
	db := setupMaintenanceTestDB(t)
	svc := NewMaintenanceService(db, maintenanceTestConfig())

	owner := createAccessTestUser(t, db, "owner@purge.test")
	workspace := &models.Workspace{Name: "Acme", Slug: "acme-purge", OwnerID: owner.ID}
	if err := db.Create(workspace).Error; err != nil {
		t.Fatalf("failed creating workspace: %v", err)
	}
	doc := &models.Document{WorkspaceID: workspace.ID, OwnerID: owner.ID, Title: "Doc", Access: models.AccessShared}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("failed creating document: %v", err)
	}

	makeShare := func(email string) *models.Share {
		grantee := createAccessTestUser(t, db, email)
		share := &models.Share{
			ResourceKind: models.ShareResourceDocument,
			ResourceID:   doc.ID,
			WorkspaceID:  workspace.ID,
			UserID:       grantee.ID,
			Permission:   models.SharePermissionView,
			CreatedByID:  owner.ID,
		}
		if err := db.Create(share).Error; err != nil {
			t.Fatalf("failed creating share: %v", err)
		}
		return share
	}

	oldRevoked := makeShare("first@purge.test")
	recentRevoked := makeShare("second@purge.test")
	active := makeShare("third@purge.test")

	if err := db.Delete(oldRevoked).Error; err != nil {
		t.Fatalf("failed revoking share: %v", err)
	}
	if err := db.Delete(recentRevoked).Error; err != nil {
		t.Fatalf("failed revoking share: %v", err)
	}
	// Backdate the first revocation past the retention window.
	err := db.Unscoped().Model(&models.Share{}).Where("id = ?", oldRevoked.ID).
		Update("deleted_at", time.Now().Add(-721*time.Hour)).Error
	if err != nil {
		t.Fatalf("failed backdating revoked share: %v", err)
	}

	svc.PurgeRevokedShares()

	var count int64
	db.Unscoped().Model(&models.Share{}).Where("id = ?", oldRevoked.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected old revoked share to be purged")
	}
	db.Unscoped().Model(&models.Share{}).Where("id = ?", recentRevoked.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected recently revoked share to survive the sweep")
	}
	db.Model(&models.Share{}).Where("id = ?", active.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected active share to survive the sweep")
	}
}

func TestMaintenanceService_ReleaseStaleLocks(t *testing.T) {
	db := setupMaintenanceTestDB(t)
	svc := NewMaintenanceService(db, maintenanceTestConfig())

	owner := createAccessTestUser(t, db, "owner@locks.test")
	workspace := &models.Workspace{Name: "Acme", Slug: "acme-locks", OwnerID: owner.ID}
	if err := db.Create(workspace).Error; err != nil {
		t.Fatalf("failed creating workspace: %v", err)
	}

	staleTime := time.Now().Add(-48 * time.Hour)
	recentTime := time.Now().Add(-time.Hour)

	staleDoc := &models.Document{
		WorkspaceID: workspace.ID,
		OwnerID:     owner.ID,
		Title:       "Stale",
		Access:      models.AccessPrivate,
		Locked:      true,
		LockedAt:    &staleTime,
		LockedByID:  &owner.ID,
	}
	freshPage := &models.Page{
		WorkspaceID: workspace.ID,
		OwnerID:     owner.ID,
		Title:       "Fresh",
		Access:      models.AccessPrivate,
		Locked:      true,
		LockedAt:    &recentTime,
		LockedByID:  &owner.ID,
	}
	if err := db.Create(staleDoc).Error; err != nil {
		t.Fatalf("failed creating document: %v", err)
	}
	if err := db.Create(freshPage).Error; err != nil {
		t.Fatalf("failed creating page: %v", err)
	}

	svc.ReleaseStaleLocks()

	var doc models.Document
	if err := db.First(&doc, "id = ?", staleDoc.ID).Error; err != nil {
		t.Fatalf("failed reloading document: %v", err)
	}
	if doc.Locked || doc.LockedAt != nil || doc.LockedByID != nil {
		t.Errorf("expected stale document lock to be released, got locked=%v", doc.Locked)
	}

	var page models.Page
	if err := db.First(&page, "id = ?", freshPage.ID).Error; err != nil {
		t.Fatalf("failed reloading page: %v", err)
	}
	if !page.Locked {
		t.Errorf("expected fresh page lock to survive the sweep")
	}
}
