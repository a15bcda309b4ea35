package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellis/backend/internal/services"
	"github.com/trellis/backend/internal/storage"
)

var exportAuditCmd = &cobra.Command{
	Use:   "export-audit",
	Short: "Run one audit export cycle immediately",
	Long: `Export audit log rows newer than the export cursor to object storage
as NDJSON, exactly as the scheduled exporter does, then advance the
cursor. Requires MinIO to be reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		storageClient, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("audit export requires object storage: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := storageClient.EnsureBucket(bucketCtx); err != nil {
			return fmt.Errorf("audit export requires object storage: %w", err)
		}

		auditService := services.NewAuditService(db, storageClient)
		auditService.ExportOnce()

		fmt.Println("Audit export cycle finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportAuditCmd)
}
