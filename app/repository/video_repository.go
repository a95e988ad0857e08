package repository

import (
	"github.com/MichaelBrandt/CourseGate/app/models"
	"gorm.io/gorm"
)

// videoRepository implements the VideoRepository interface
type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new video repository instance
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{db: db}
}

func (r *videoRepository) Create(video *models.Video) error {
	return r.db.Create(video).Error
}

func (r *videoRepository) GetByID(id uint) (*models.Video, error) {
	var video models.Video
	if err := r.db.First(&video, id).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepository) GetByUUID(uuid string) (*models.Video, error) {
	var video models.Video
	if err := r.db.Where("uuid = ?", uuid).First(&video).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepository) GetBySlug(slug string) (*models.Video, error) {
	var video models.Video
	if err := r.db.Where("slug = ?", slug).First(&video).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepository) ListPublished(offset, limit int) ([]models.Video, error) {
	var videos []models.Video
	err := r.db.Where("published_at IS NOT NULL").
		Order("published_at DESC").Offset(offset).Limit(limit).Find(&videos).Error
	return videos, err
}

// ListUnannounced returns published videos whose announcement never went out.
func (r *videoRepository) ListUnannounced() ([]models.Video, error) {
	var videos []models.Video
	err := r.db.Where("published_at IS NOT NULL AND announced_at IS NULL").
		Order("published_at ASC").Find(&videos).Error
	return videos, err
}

func (r *videoRepository) Update(video *models.Video) error {
	return r.db.Save(video).Error
}

func (r *videoRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Video{}).Count(&count).Error
	return count, err
}
