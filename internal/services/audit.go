package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/internal/storage"
	"github.com/trellis/backend/pkg/logger"
)

type AuditEntry struct {
	WorkspaceID  *uuid.UUID
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
}

type AuditService struct {
	DB      *gorm.DB
	Storage *storage.MinIOClient
	queue   chan models.AuditLog
}

func NewAuditService(db *gorm.DB, storageClient *storage.MinIOClient) *AuditService {
	s := &AuditService{
		DB:      db,
		Storage: storageClient,
		queue:   make(chan models.AuditLog, 1000),
	}
	go s.processQueue()
	return s
}

// LogAsync queues an audit row without blocking the request path. When
// the queue is saturated the entry is dropped and the drop itself is
// logged; losing an audit row must never take down a request.
func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		WorkspaceID:  entry.WorkspaceID,
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC(),
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}

// StartExporter runs a background goroutine that periodically exports
// new audit log rows to S3/MinIO as NDJSON files.
func (s *AuditService) StartExporter(interval time.Duration) {
	if s.Storage == nil {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no storage client configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			s.ExportOnce()
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// ExportOnce ships all rows newer than the cursor to object storage
// and advances the cursor. Also reachable through the admin CLI for
// on-demand exports.
func (s *AuditService) ExportOnce() {
	if s.Storage == nil {
		return
	}

	var cursor models.AuditExportCursor
	err := s.DB.First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cursor = models.AuditExportCursor{
				LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			if createErr := s.DB.Create(&cursor).Error; createErr != nil {
				logger.Error("audit_export_cursor_create_failed", createErr, nil)
				return
			}
		} else {
			logger.Error("audit_export_cursor_load_failed", err, nil)
			return
		}
	}

	var logs []models.AuditLog
	if err := s.DB.Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(10000).
		Find(&logs).Error; err != nil {
		logger.Error("audit_export_query_failed", err, nil)
		return
	}

	if len(logs) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, log := range logs {
		if err := enc.Encode(log); err != nil {
			logger.Error("audit_export_encode_failed", err, map[string]interface{}{
				"log_id": log.ID.String(),
			})
			continue
		}
	}

	now := time.Now().UTC()
	objectName := fmt.Sprintf("audit-logs/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
	)

	if err := s.Storage.Upload(
		context.Background(),
		objectName,
		&buf,
		int64(buf.Len()),
		"application/x-ndjson",
	); err != nil {
		logger.Error("audit_export_upload_failed", err, map[string]interface{}{
			"object_name": objectName,
			"count":       len(logs),
		})
		return
	}

	lastCreatedAt := logs[len(logs)-1].CreatedAt
	s.DB.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	})

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
}
