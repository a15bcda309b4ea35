package services

import (
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

// MaintenanceService runs the periodic housekeeping sweeps: expiring
// stale invitations, purging revoked shares past the retention window,
// releasing editing locks nobody came back for, and dropping consumed
// MFA token IDs.
type MaintenanceService struct {
	db   *gorm.DB
	cfg  config.MaintenanceConfig
	cron *cron.Cron
}

func NewMaintenanceService(db *gorm.DB, cfg config.MaintenanceConfig) *MaintenanceService {
	return &MaintenanceService{db: db, cfg: cfg}
}

// Start schedules the sweeps on the configured cadence.
func (s *MaintenanceService) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.RunSweeps); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	logger.Info("maintenance scheduler started", map[string]interface{}{
		"schedule": s.cfg.Schedule,
	})
	return nil
}

func (s *MaintenanceService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunSweeps executes every sweep once. The scheduler calls this on its
// cadence; the admin CLI calls it directly.
func (s *MaintenanceService) RunSweeps() {
	s.ExpireInvitations()
	s.PurgeRevokedShares()
	s.ReleaseStaleLocks()
	utils.CleanupExpiredJTIs()
}

// ExpireInvitations flips pending invitations past their deadline to
// expired so they can no longer be accepted.
func (s *MaintenanceService) ExpireInvitations() {
	result := s.db.Model(&models.Invitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationStatusPending, time.Now()).
		Update("status", models.InvitationStatusExpired)
	if result.Error != nil {
		logger.Error("invitation expiry sweep failed", result.Error, nil)
		return
	}
	if result.RowsAffected > 0 {
		logger.Info("expired stale invitations", map[string]interface{}{
			"count": result.RowsAffected,
		})
	}
}

// PurgeRevokedShares hard-deletes share rows that were revoked longer
// ago than the retention window. Until then revoked rows stay around
// soft-deleted for audit queries.
func (s *MaintenanceService) PurgeRevokedShares() {
	cutoff := time.Now().Add(-s.cfg.ShareRetention)
	result := s.db.Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Delete(&models.Share{})
	if result.Error != nil {
		logger.Error("share purge sweep failed", result.Error, nil)
		return
	}
	if result.RowsAffected > 0 {
		logger.Info("purged revoked shares", map[string]interface{}{
			"count": result.RowsAffected,
		})
	}
}

// ReleaseStaleLocks clears editing locks on documents and pages whose
// holder went away without unlocking. Past the TTL the lock is assumed
// abandoned and other editors get write access back.
func (s *MaintenanceService) ReleaseStaleLocks() {
	cutoff := time.Now().Add(-s.cfg.LockTTL)
	unlock := map[string]interface{}{
		"locked":       false,
		"locked_at":    nil,
		"locked_by_id": nil,
	}

	for _, model := range []interface{}{&models.Document{}, &models.Page{}} {
		result := s.db.Model(model).
			Where("locked = ? AND locked_at < ?", true, cutoff).
			Updates(unlock)
		if result.Error != nil {
			logger.Error("stale lock sweep failed", result.Error, nil)
			continue
		}
		if result.RowsAffected > 0 {
			logger.Info("released stale locks", map[string]interface{}{
				"count": result.RowsAffected,
			})
		}
	}
}
