package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Video is a published content item. The announcement fields form a
// single-writer claim: AnnouncedAt acts as the lock, and
// AnnouncementMessageID is only ever non-empty once a community message was
// confirmed sent. AnnouncedAt may transiently be set with an empty message id
// while a publish attempt is in flight.
type Video struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UUID                  string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_videos_uuid" json:"uuid"`
	Title                 string     `gorm:"type:varchar(255);not null" json:"title"`
	Slug                  string     `gorm:"type:varchar(255);not null;uniqueIndex:ux_videos_slug" json:"slug"`
	ThumbnailURL          string     `gorm:"type:varchar(500);default:''" json:"thumbnail_url"`
	PublishedAt           *time.Time `gorm:"type:timestamp;default:null;index" json:"published_at,omitempty"`
	AnnouncedAt           *time.Time `gorm:"type:timestamp;default:null" json:"announced_at,omitempty"`
	AnnouncementMessageID string     `gorm:"type:varchar(64);default:''" json:"announcement_message_id"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate generates a UUID if none is set.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.UUID == "" {
		v.UUID = uuid.New().String()
	}
	return nil
}

// IsAnnounced reports whether a community message was confirmed sent.
func (v *Video) IsAnnounced() bool {
	return v.AnnouncedAt != nil && v.AnnouncementMessageID != ""
}
