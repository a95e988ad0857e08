package announce

import (
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"gorm.io/gorm"
)

// ClaimStore is the durable single-writer lock surface for announcements.
// The claim has to live in shared storage, not process memory: the service
// may run as several stateless instances, and two admins (or an automatic
// retry) can race on the same video.
type ClaimStore interface {
	GetVideoByID(id uint) (*models.Video, error)
	// ClaimAnnouncement atomically sets announced_at where it is still null.
	// Returns false when another caller already holds or completed the claim.
	ClaimAnnouncement(videoID uint, at time.Time) (bool, error)
	// ReleaseClaim rolls an unfinished claim back so a retry can claim
	// again. It only touches rows whose message id is still empty, so a
	// completed announcement can never be reopened.
	ReleaseClaim(videoID uint) error
	// CompleteClaim stores the confirmed message id, closing the claim.
	CompleteClaim(videoID uint, messageID string) error
}

type gormClaimStore struct {
	db *gorm.DB
}

// NewClaimStore creates a claim store backed by GORM.
func NewClaimStore(db *gorm.DB) ClaimStore {
	return &gormClaimStore{db: db}
}

func (s *gormClaimStore) GetVideoByID(id uint) (*models.Video, error) {
	var v models.Video
	if err := s.db.First(&v, id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *gormClaimStore) ClaimAnnouncement(videoID uint, at time.Time) (bool, error) {
	tx := s.db.Model(&models.Video{}).
		Where("id = ? AND announced_at IS NULL", videoID).
		Update("announced_at", at)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormClaimStore) ReleaseClaim(videoID uint) error {
	return s.db.Model(&models.Video{}).
		Where("id = ? AND (announcement_message_id = '' OR announcement_message_id IS NULL)", videoID).
		Update("announced_at", nil).Error
}

func (s *gormClaimStore) CompleteClaim(videoID uint, messageID string) error {
	return s.db.Model(&models.Video{}).
		Where("id = ?", videoID).
		Update("announcement_message_id", messageID).Error
}
