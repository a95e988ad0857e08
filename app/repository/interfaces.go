package repository

import (
	"github.com/MichaelBrandt/CourseGate/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// VideoRepository defines the interface for video-related database operations
type VideoRepository interface {
	Create(video *models.Video) error
	GetByID(id uint) (*models.Video, error)
	GetByUUID(uuid string) (*models.Video, error)
	GetBySlug(slug string) (*models.Video, error)
	ListPublished(offset, limit int) ([]models.Video, error)
	ListUnannounced() ([]models.Video, error)
	Update(video *models.Video) error
	Count() (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User  UserRepository
	Video VideoRepository
}
