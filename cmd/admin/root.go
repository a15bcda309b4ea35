package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/internal/database"
	"github.com/trellis/backend/pkg/logger"
	"github.com/trellis/backend/pkg/utils"
)

var (
	cfg *config.Config
	db  *gorm.DB
)

var rootCmd = &cobra.Command{
	Use:   "trellis-admin",
	Short: "Trellis server-side management commands",
	Long: `Trellis admin runs management tasks directly against the database,
using the same environment configuration as the API server.

Common tasks:
  trellis-admin create-user --email ops@example.com --password ...
  trellis-admin seed                 Load a demo workspace
  trellis-admin fix-shares           Revoke duplicate share grants
  trellis-admin export-audit         Run one audit export cycle`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		logger.Init()

		cfg = config.Load()
		utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
		utils.ConfigureEncryption(cfg.Encryption.Secret)

		var err error
		db, err = database.Connect(cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
