package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FileState is the stored lifecycle state of a file. Purged files have no
// state because their row no longer exists.
type FileState int

const (
	FileActive FileState = iota
	FileSoftDeleted
)

func (s FileState) String() string {
	switch s {
	case FileActive:
		return "active"
	case FileSoftDeleted:
		return "soft-deleted"
	default:
		return "unknown"
	}
}

type File struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string     `gorm:"not null" json:"name"`
	ContentType      string     `gorm:"not null" json:"type"`
	Size             int64      `gorm:"not null" json:"size"`
	BlobRef          string     `gorm:"not null" json:"-"`
	IsAnonymous      bool       `gorm:"not null;default:false;index" json:"isAnonymous"`
	WorkspaceID      *uuid.UUID `gorm:"type:uuid;index:idx_files_workspace_folder" json:"workspaceId,omitempty"`
	Folder           string     `gorm:"not null;index:idx_files_workspace_folder" json:"folder"`
	UploaderID       *uuid.UUID `gorm:"type:uuid;index" json:"uploaderId,omitempty"`
	ShareID          string     `gorm:"size:32;uniqueIndex;not null" json:"shareId"`
	IsDeleted        bool       `gorm:"not null;default:false" json:"isDeleted"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	ExpiresAt        *time.Time `gorm:"index" json:"expiresAt,omitempty"`
	UploadedAt       time.Time  `gorm:"not null" json:"uploadedAt"`
	ContentUpdatedAt time.Time  `gorm:"not null" json:"contentUpdatedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	Versions []FileVersion `gorm:"foreignKey:FileID" json:"versions,omitempty"`
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func (f *File) State() FileState {
	if f.IsDeleted {
		return FileSoftDeleted
	}
	return FileActive
}

// Expired reports whether an anonymous file is past its expiry at now.
// Workspace files never expire.
func (f *File) Expired(now time.Time) bool {
	return f.IsAnonymous && f.ExpiresAt != nil && now.After(*f.ExpiresAt)
}

// FileVersion keeps a blob that was replaced by a later upload to the same
// workspace path.
type FileVersion struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	FileID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"fileId"`
	BlobRef     string     `gorm:"not null" json:"-"`
	Size        int64      `json:"size"`
	ContentType string     `json:"type"`
	UploaderID  *uuid.UUID `gorm:"type:uuid" json:"uploaderId,omitempty"`
	UploadedAt  time.Time  `json:"uploadedAt"`
}
