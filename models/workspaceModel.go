package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Workspace struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"not null" json:"description"`
	IsPublic    bool      `gorm:"not null;default:false" json:"isPublic"`
	AccessCode  string    `gorm:"size:16;uniqueIndex;not null" json:"accessCode"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Members []Membership `gorm:"foreignKey:WorkspaceID" json:"members,omitempty"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// Membership binds a user to a workspace. ID is monotonic so that members
// joining within the same instant still list in insertion order.
type Membership struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_workspace_member" json:"workspaceId"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_workspace_member" json:"userId"`
	Role        Role      `gorm:"size:16;not null" json:"role"`
	JoinedAt    time.Time `gorm:"not null" json:"joinedAt"`
}

func (Membership) TableName() string {
	return "workspace_members"
}
