package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trellis/backend/internal/models"
)

var flagFixSharesDryRun bool

var fixSharesCmd = &cobra.Command{
	Use:   "fix-shares",
	Short: "Revoke duplicate active share grants",
	Long: `Scan for resources holding more than one active share for the same
user and soft-delete the extras. The earliest grant wins; later rows
are revoked the same way the API revokes a share, so they stay
visible to audit queries until the retention sweep purges them.

  trellis-admin fix-shares --dry-run    Report duplicates without changing anything
  trellis-admin fix-shares              Revoke the duplicate rows`,
	RunE: func(cmd *cobra.Command, args []string) error {
		type grantKey struct {
			Kind     models.ShareResourceKind
			Resource uuid.UUID
			User     uuid.UUID
		}

		var shares []models.Share
		if err := db.Order("created_at ASC, id ASC").Find(&shares).Error; err != nil {
			return fmt.Errorf("loading shares: %w", err)
		}

		kept := make(map[grantKey]uuid.UUID, len(shares))
		var extras []uuid.UUID
		for _, s := range shares {
			key := grantKey{Kind: s.ResourceKind, Resource: s.ResourceID, User: s.UserID}
			if _, ok := kept[key]; ok {
				extras = append(extras, s.ID)
				continue
			}
			kept[key] = s.ID
		}

		if len(extras) == 0 {
			fmt.Println("No duplicate shares found")
			return nil
		}

		if flagFixSharesDryRun {
			fmt.Printf("Found %d duplicate share(s); re-run without --dry-run to revoke:\n", len(extras))
			for _, id := range extras {
				fmt.Printf("  %s\n", id)
			}
			return nil
		}

		if err := db.Delete(&models.Share{}, "id IN ?", extras).Error; err != nil {
			return fmt.Errorf("revoking duplicate shares: %w", err)
		}

		fmt.Printf("Revoked %d duplicate share(s), kept the earliest grant per resource and user\n", len(extras))
		return nil
	},
}

func init() {
	fixSharesCmd.Flags().BoolVar(&flagFixSharesDryRun, "dry-run", false, "Report duplicates without revoking them")
	rootCmd.AddCommand(fixSharesCmd)
}
