package models

import "github.com/google/uuid"

type IssueState string

const (
	IssueStateBacklog    IssueState = "backlog"
	IssueStateTodo       IssueState = "todo"
	IssueStateInProgress IssueState = "in_progress"
	IssueStateDone       IssueState = "done"
	IssueStateCancelled  IssueState = "cancelled"
)

func (s IssueState) Valid() bool {
	switch s {
	case IssueStateBacklog, IssueStateTodo, IssueStateInProgress, IssueStateDone, IssueStateCancelled:
		return true
	}
	return false
}

type IssuePriority string

const (
	IssuePriorityNone   IssuePriority = "none"
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
	IssuePriorityUrgent IssuePriority = "urgent"
)

func (p IssuePriority) Valid() bool {
	switch p {
	case IssuePriorityNone, IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityUrgent:
		return true
	}
	return false
}

type Issue struct {
	BaseModel
	WorkspaceID uuid.UUID     `json:"workspaceID" gorm:"type:uuid;not null;index"`
	ProjectID   uuid.UUID     `json:"projectID" gorm:"type:uuid;not null;index"`
	Sequence    int64         `json:"sequence" gorm:"not null;default:0"`
	Title       string        `json:"title" gorm:"type:varchar(255);not null"`
	Description string        `json:"description" gorm:"type:text"`
	State       IssueState    `json:"state" gorm:"type:varchar(20);not null;default:'backlog';index"`
	Priority    IssuePriority `json:"priority" gorm:"type:varchar(10);not null;default:'none'"`
	AssigneeID  *uuid.UUID    `json:"assigneeID,omitempty" gorm:"type:uuid;index"`
	CreatedByID uuid.UUID     `json:"createdByID" gorm:"type:uuid;not null"`

	Project   Project `json:"-" gorm:"foreignKey:ProjectID"`
	Assignee  *User   `json:"assignee,omitempty" gorm:"foreignKey:AssigneeID;references:ID"`
	CreatedBy User    `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID;references:ID"`
}
