package handlers

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trellis/backend/internal/models"
)

// TestResourceAccessMatrix drives the evaluator through the HTTP surface:
// owner, admin, member, and guest against private, shared, and public
// documents, for reads and writes.
func TestResourceAccessMatrix(t *testing.T) {
	env := setupTestEnv(t)
	owner, _ := createTestUser(t, env.db, "acl-ws-owner@test.com", "password123", models.UserRoleUser)
	workspace := createTestWorkspace(t, env.db, "acl-ws", owner)

	admin, adminToken := createTestUser(t, env.db, "acl-admin@test.com", "password123", models.UserRoleUser)
	addTestMember(t, env.db, workspace, admin, models.RoleAdmin)

	author, authorToken := createTestUser(t, env.db, "acl-author@test.com", "password123", models.UserRoleUser)
	addTestMember(t, env.db, workspace, author, models.RoleMember)

	bystander, bystanderToken := createTestUser(t, env.db, "acl-bystander@test.com", "password123", models.UserRoleUser)
	addTestMember(t, env.db, workspace, bystander, models.RoleMember)

	guest, guestToken := createTestUser(t, env.db, "acl-guest@test.com", "password123", models.UserRoleUser)
	addTestMember(t, env.db, workspace, guest, models.RoleGuest)

	privateDoc := createTestDocument(t, env.db, workspace, author, models.AccessPrivate)
	sharedDoc := createTestDocument(t, env.db, workspace, author, models.AccessShared)
	publicDoc := createTestDocument(t, env.db, workspace, author, models.AccessPublic)

	docPath := func(id uuid.UUID) string {
		return "/api/workspaces/acl-ws/documents/" + id.String()
	}

	t.Run("the owner reads and mutates at every access level", func(t *testing.T) {
		for _, doc := range []*models.Document{privateDoc, sharedDoc, publicDoc} {
			resp := performRequest(t, env.app, http.MethodGet, docPath(doc.ID), nil, authHeaders(authorToken))
			assertStatus(t, resp, http.StatusOK)

			resp = performJSONRequest(t, env.app, http.MethodPut, docPath(doc.ID), map[string]any{
				"body": "owner edit",
			}, authHeaders(authorToken))
			assertStatus(t, resp, http.StatusOK)
		}
	})

	t.Run("a missing document and a denied document answer identically", func(t *testing.T) {
		denied := performRequest(t, env.app, http.MethodGet, docPath(privateDoc.ID), nil, authHeaders(guestToken))
		missing := performRequest(t, env.app, http.MethodGet, docPath(uuid.New()), nil, authHeaders(guestToken))

		if denied.StatusCode != missing.StatusCode {
			t.Fatalf("statuses differ: %d vs %d", denied.StatusCode, missing.StatusCode)
		}
		deniedBody, _ := io.ReadAll(denied.Body)
		missingBody, _ := io.ReadAll(missing.Body)
		if string(deniedBody) != string(missingBody) {
			t.Fatalf("bodies differ: %s vs %s", deniedBody, missingBody)
		}
	})

	t.Run("members without a share are denied private and shared content", func(t *testing.T) {
		for _, doc := range []*models.Document{privateDoc, sharedDoc} {
			resp := performRequest(t, env.app, http.MethodGet, docPath(doc.ID), nil, authHeaders(bystanderToken))
			assertDenied(t, resp)
		}
	})

	t.Run("admins read private content and the read is audited", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, docPath(privateDoc.ID), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		row := waitForAuditRow(t, env.db, "access.admin_private_view")
		if row.UserID == nil || *row.UserID != admin.ID {
			t.Fatalf("expected the admin on the audit row")
		}
		if row.ResourceID == nil || *row.ResourceID != privateDoc.ID {
			t.Fatalf("expected the private document on the audit row")
		}
		if row.ResourceType != "document" {
			t.Fatalf("expected document resource type, got %q", row.ResourceType)
		}
	})

	t.Run("admins cannot mutate private content they do not own", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, docPath(privateDoc.ID), map[string]any{
			"body": "admin edit",
		}, authHeaders(adminToken))
		assertDenied(t, resp)

		resp = performRequest(t, env.app, http.MethodDelete, docPath(privateDoc.ID), nil, authHeaders(adminToken))
		assertDenied(t, resp)

		if n := auditRowCount(t, env.db, "access.admin_private_view"); n != 1 {
			t.Fatalf("denied writes must not add override audit rows, found %d", n)
		}
	})

	t.Run("admins read shared content without a share and without an audit row", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, docPath(sharedDoc.ID), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		if n := auditRowCount(t, env.db, "access.admin_private_view"); n != 1 {
			t.Fatalf("shared reads are ordinary access, found %d override rows", n)
		}

		resp = performJSONRequest(t, env.app, http.MethodPut, docPath(sharedDoc.ID), map[string]any{
			"body": "admin shared edit",
		}, authHeaders(adminToken))
		assertDenied(t, resp)
	})

	t.Run("a view share grants reads but not writes", func(t *testing.T) {
		createTestShare(t, env.db, models.ShareResourceDocument, sharedDoc.ID, workspace, guest, models.SharePermissionView, author)

		resp := performRequest(t, env.app, http.MethodGet, docPath(sharedDoc.ID), nil, authHeaders(guestToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performJSONRequest(t, env.app, http.MethodPut, docPath(sharedDoc.ID), map[string]any{
			"body": "guest edit",
		}, authHeaders(guestToken))
		assertDenied(t, resp)
	})

	t.Run("an edit share grants writes", func(t *testing.T) {
		if err := env.db.Model(&models.Share{}).
			Where("resource_kind = ? AND resource_id = ? AND user_id = ?", models.ShareResourceDocument, sharedDoc.ID, guest.ID).
			Update("permission", models.SharePermissionEdit).Error; err != nil {
			t.Fatalf("failed upgrading share: %v", err)
		}

		resp := performJSONRequest(t, env.app, http.MethodPut, docPath(sharedDoc.ID), map[string]any{
			"body": "guest edit with share",
		}, authHeaders(guestToken))
		assertStatus(t, resp, http.StatusOK)
	})

	t.Run("shares on a private document grant nothing", func(t *testing.T) {
		createTestShare(t, env.db, models.ShareResourceDocument, privateDoc.ID, workspace, guest, models.SharePermissionEdit, author)

		resp := performRequest(t, env.app, http.MethodGet, docPath(privateDoc.ID), nil, authHeaders(guestToken))
		assertDenied(t, resp)
	})

	t.Run("public content answers only to its owner", func(t *testing.T) {
		for _, token := range []string{adminToken, bystanderToken, guestToken} {
			resp := performRequest(t, env.app, http.MethodGet, docPath(publicDoc.ID), nil, authHeaders(token))
			assertDenied(t, resp)
		}

		resp := performRequest(t, env.app, http.MethodGet, docPath(publicDoc.ID), nil, authHeaders(authorToken))
		assertStatus(t, resp, http.StatusOK)
	})

	t.Run("deactivated members lose access their shares granted", func(t *testing.T) {
		departed, departedToken := createTestUser(t, env.db, "acl-departed@test.com", "password123", models.UserRoleUser)
		addTestMember(t, env.db, workspace, departed, models.RoleMember)
		createTestShare(t, env.db, models.ShareResourceDocument, sharedDoc.ID, workspace, departed, models.SharePermissionView, author)

		resp := performRequest(t, env.app, http.MethodGet, docPath(sharedDoc.ID), nil, authHeaders(departedToken))
		assertStatus(t, resp, http.StatusOK)

		if err := env.db.Model(&models.Member{}).
			Where("user_id = ? AND workspace_id = ?", departed.ID, workspace.ID).
			Update("is_active", false).Error; err != nil {
			t.Fatalf("failed deactivating member: %v", err)
		}

		resp = performRequest(t, env.app, http.MethodGet, docPath(sharedDoc.ID), nil, authHeaders(departedToken))
		assertDenied(t, resp)
	})

	t.Run("wiki pages follow the same rules", func(t *testing.T) {
		privatePage := createTestPage(t, env.db, workspace, author, models.AccessPrivate)
		pagePath := "/api/workspaces/acl-ws/pages/" + privatePage.ID.String()

		resp := performRequest(t, env.app, http.MethodGet, pagePath, nil, authHeaders(bystanderToken))
		assertDenied(t, resp)

		resp = performRequest(t, env.app, http.MethodGet, pagePath, nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		deadline := time.Now().Add(2 * time.Second)
		var pageRow models.AuditLog
		for {
			err := env.db.Where("action = ? AND resource_type = ?", "access.admin_private_view", "page").First(&pageRow).Error
			if err == nil {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("no override audit row for the page read")
			}
			time.Sleep(10 * time.Millisecond)
		}
		if pageRow.ResourceID == nil || *pageRow.ResourceID != privatePage.ID {
			t.Fatalf("expected the page on the audit row")
		}

		resp = performJSONRequest(t, env.app, http.MethodPut, pagePath, map[string]any{
			"body": "admin page edit",
		}, authHeaders(adminToken))
		assertDenied(t, resp)
	})

	t.Run("the document list shows only what a safe fetch would allow", func(t *testing.T) {
		counts := []struct {
			name  string
			token string
			want  int
		}{
			{"author sees everything they own", authorToken, 3},
			{"admin sees private and shared but not public", adminToken, 2},
			{"guest sees only the shared grant", guestToken, 1},
			{"bystander sees nothing", bystanderToken, 0},
		}
		for _, tc := range counts {
			resp := performRequest(t, env.app, http.MethodGet, "/api/workspaces/acl-ws/documents", nil, authHeaders(tc.token))
			body := decodeJSONMap(t, resp)
			assertStatus(t, resp, http.StatusOK)

			data := body["data"].([]any)
			if len(data) != tc.want {
				t.Fatalf("%s: expected %d documents, got %d", tc.name, tc.want, len(data))
			}
		}
	})

	t.Run("a revoked share stops granting", func(t *testing.T) {
		if err := env.db.Where("resource_kind = ? AND resource_id = ? AND user_id = ?", models.ShareResourceDocument, sharedDoc.ID, guest.ID).
			Delete(&models.Share{}).Error; err != nil {
			t.Fatalf("failed revoking share: %v", err)
		}

		resp := performRequest(t, env.app, http.MethodGet, docPath(sharedDoc.ID), nil, authHeaders(guestToken))
		assertDenied(t, resp)

		resp = performRequest(t, env.app, http.MethodGet, "/api/workspaces/acl-ws/documents", nil, authHeaders(guestToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if data := body["data"].([]any); len(data) != 0 {
			t.Fatalf("expected empty list after revocation, got %d", len(data))
		}
	})
}
