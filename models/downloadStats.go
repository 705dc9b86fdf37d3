package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DownloadEvent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FileID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	UserID    *uuid.UUID `gorm:"type:uuid"`
	ViaShare  bool       `gorm:"not null;default:false"`
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

func (e *DownloadEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
