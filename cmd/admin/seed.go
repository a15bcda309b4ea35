package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/trellis/backend/internal/models"
	"github.com/trellis/backend/pkg/utils"
)

const seedWorkspaceSlug = "demo"

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo workspace with sample users and content",
	Long: `Create a demo workspace populated with two users, a project with a
few issues, a shared document, and a wiki page. Safe to re-run: the
command is a no-op when the demo workspace already exists.

Demo accounts (password "demo-password"):
  alice@demo.trellis.local    workspace admin, owns the content
  bob@demo.trellis.local      member, holds a view share`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var existing models.Workspace
		err := db.Where("slug = ?", seedWorkspaceSlug).First(&existing).Error
		if err == nil {
			fmt.Printf("Demo workspace %q already exists, nothing to do\n", seedWorkspaceSlug)
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("checking for demo workspace: %w", err)
		}

		hash, err := utils.HashPassword("demo-password")
		if err != nil {
			return fmt.Errorf("hashing demo password: %w", err)
		}

		return db.Transaction(func(tx *gorm.DB) error {
			alice := models.User{
				Email:        "alice@demo.trellis.local",
				PasswordHash: hash,
				FirstName:    "Alice",
				LastName:     "Demo",
			}
			bob := models.User{
				Email:        "bob@demo.trellis.local",
				PasswordHash: hash,
				FirstName:    "Bob",
				LastName:     "Demo",
			}
			for _, u := range []*models.User{&alice, &bob} {
				if err := tx.Create(u).Error; err != nil {
					return fmt.Errorf("creating demo user %s: %w", u.Email, err)
				}
			}

			ws := models.Workspace{
				Name:    "Demo Workspace",
				Slug:    seedWorkspaceSlug,
				OwnerID: alice.ID,
			}
			if err := tx.Create(&ws).Error; err != nil {
				return fmt.Errorf("creating demo workspace: %w", err)
			}

			memberships := []models.Member{
				{UserID: alice.ID, WorkspaceID: ws.ID, Role: models.RoleAdmin, IsActive: true},
				{UserID: bob.ID, WorkspaceID: ws.ID, Role: models.RoleMember, IsActive: true, InvitedByID: &alice.ID},
			}
			if err := tx.Create(&memberships).Error; err != nil {
				return fmt.Errorf("creating demo memberships: %w", err)
			}

			project := models.Project{
				WorkspaceID: ws.ID,
				Identifier:  "DEMO",
				Name:        "Demo Project",
				Description: "A sample project to explore issue tracking.",
				LeadID:      &alice.ID,
				CreatedByID: alice.ID,
			}
			if err := tx.Create(&project).Error; err != nil {
				return fmt.Errorf("creating demo project: %w", err)
			}

			issues := []models.Issue{
				{
					WorkspaceID: ws.ID, ProjectID: project.ID, Sequence: 1,
					Title: "Invite the rest of the team", State: models.IssueStateDone,
					Priority: models.IssuePriorityHigh, AssigneeID: &alice.ID, CreatedByID: alice.ID,
				},
				{
					WorkspaceID: ws.ID, ProjectID: project.ID, Sequence: 2,
					Title: "Write the onboarding document", State: models.IssueStateInProgress,
					Priority: models.IssuePriorityMedium, AssigneeID: &bob.ID, CreatedByID: alice.ID,
				},
				{
					WorkspaceID: ws.ID, ProjectID: project.ID, Sequence: 3,
					Title: "Review workspace access levels", State: models.IssueStateBacklog,
					Priority: models.IssuePriorityNone, CreatedByID: bob.ID,
				},
			}
			if err := tx.Create(&issues).Error; err != nil {
				return fmt.Errorf("creating demo issues: %w", err)
			}

			doc := models.Document{
				WorkspaceID: ws.ID,
				ProjectID:   &project.ID,
				OwnerID:     alice.ID,
				Title:       "Getting Started",
				Body:        "# Getting Started\n\nWelcome to Trellis. This document is shared with Bob.\n",
				Access:      models.AccessShared,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return fmt.Errorf("creating demo document: %w", err)
			}

			share := models.Share{
				ResourceKind: models.ShareResourceDocument,
				ResourceID:   doc.ID,
				WorkspaceID:  ws.ID,
				UserID:       bob.ID,
				Permission:   models.SharePermissionView,
				CreatedByID:  alice.ID,
			}
			if err := tx.Create(&share).Error; err != nil {
				return fmt.Errorf("creating demo share: %w", err)
			}

			page := models.Page{
				WorkspaceID: ws.ID,
				OwnerID:     alice.ID,
				Title:       "Team Handbook",
				Body:        "# Team Handbook\n\nHouse rules and working agreements live here.\n",
				Access:      models.AccessPrivate,
			}
			if err := tx.Create(&page).Error; err != nil {
				return fmt.Errorf("creating demo page: %w", err)
			}

			fmt.Printf("Seeded workspace %q with 2 users, project DEMO, 3 issues, 1 document, 1 page\n", seedWorkspaceSlug)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
