package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/utils"
)

var (
	flagUserEmail     string
	flagUserPassword  string
	flagUserFirstName string
	flagUserLastName  string
	flagUserAdmin     bool
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Provision a user account",
	Long: `Create a user account without going through the registration endpoint.

  trellis-admin create-user --email ops@example.com --password s3cret-pw
  trellis-admin create-user --email root@example.com --password s3cret-pw --admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.ToLower(strings.TrimSpace(flagUserEmail))
		if email == "" {
			return fmt.Errorf("--email is required")
		}
		if len(flagUserPassword) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}

		var existing models.User
		err := db.Where("email = ?", email).First(&existing).Error
		if err == nil {
			return fmt.Errorf("a user with email %s already exists", email)
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("checking for existing user: %w", err)
		}

		hash, err := utils.HashPassword(flagUserPassword)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		role := models.UserRoleUser
		if flagUserAdmin {
			role = models.UserRoleAdmin
		}

		user := models.User{
			Email:        email,
			PasswordHash: hash,
			FirstName:    flagUserFirstName,
			LastName:     flagUserLastName,
			Role:         role,
		}
		if err := db.Create(&user).Error; err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		fmt.Printf("Created user %s (id: %s, role: %s)\n", user.Email, user.ID, user.Role)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&flagUserEmail, "email", "", "Email address (required)")
	createUserCmd.Flags().StringVar(&flagUserPassword, "password", "", "Password, minimum 8 characters (required)")
	createUserCmd.Flags().StringVar(&flagUserFirstName, "first-name", "Trellis", "First name")
	createUserCmd.Flags().StringVar(&flagUserLastName, "last-name", "User", "Last name")
	createUserCmd.Flags().BoolVar(&flagUserAdmin, "admin", false, "Grant the site admin role")
	rootCmd.AddCommand(createUserCmd)
}
