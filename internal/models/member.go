package models

import "github.com/google/uuid"

// MemberRole is a closed set. The numeric values are stored in the
// database and leave gaps for future tiers, but callers must never
// compare them directly; use AtLeast so unknown values rank nowhere.
type MemberRole int

const (
	RoleGuest  MemberRole = 5
	RoleMember MemberRole = 15
	RoleAdmin  MemberRole = 20
)

func (r MemberRole) Valid() bool {
	switch r {
	case RoleGuest, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// AtLeast reports whether r ranks at or above min. An unrecognized
// role on either side ranks below everything.
func (r MemberRole) AtLeast(min MemberRole) bool {
	if !r.Valid() || !min.Valid() {
		return false
	}
	return r >= min
}

func (r MemberRole) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}

// Member links a user to a workspace. Members are deactivated rather
// than deleted so that audit rows and ownership history stay intact.
type Member struct {
	BaseModel
	UserID      uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_member_user_workspace"`
	WorkspaceID uuid.UUID  `json:"workspaceID" gorm:"type:uuid;not null;index;uniqueIndex:idx_member_user_workspace"`
	Role        MemberRole `json:"role" gorm:"not null;default:15"`
	IsActive    bool       `json:"isActive" gorm:"not null;default:true;index"`
	InvitedByID *uuid.UUID `json:"invitedByID,omitempty" gorm:"type:uuid"`

	User      User      `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Workspace Workspace `json:"-" gorm:"foreignKey:WorkspaceID"`
}

func (Member) TableName() string {
	return "members"
}
