package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellis/backend/internal/services"
)

var maintenanceCmd = &cobra.Command{
	Use:   "run-maintenance",
	Short: "Run the housekeeping sweeps once",
	Long: `Execute the scheduled maintenance sweeps a single time: expire stale
invitations, purge revoked shares past the retention window, and
release abandoned editing locks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		services.NewMaintenanceService(db, cfg.Maintenance).RunSweeps()
		fmt.Println("Maintenance sweeps finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
}
