package store

import (
	"time"

	"github.com/stackhost-io/stackhost/models"
)

// CreateImage inserts a new custom image record.
func (s *Store) CreateImage(img *models.CustomImage) error {
	return translate(s.db.Create(img).Error)
}

// GetImage fetches an image by ID, including soft-deleted records so version
// chains stay walkable.
func (s *Store) GetImage(id string) (*models.CustomImage, error) {
	var img models.CustomImage
	if err := s.db.First(&img, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &img, nil
}

// UpdateImage persists image changes.
func (s *Store) UpdateImage(img *models.CustomImage) error {
	return translate(s.db.Save(img).Error)
}

// ListImages lists non-deleted images for a customer, newest first.
func (s *Store) ListImages(customerID string) ([]*models.CustomImage, error) {
	q := s.db.Where("deleted_at IS NULL").Order("created_at desc")
	if customerID != "" {
		q = q.Where("customer_id = ?", customerID)
	}
	var images []*models.CustomImage
	return images, translate(q.Find(&images).Error)
}

// NextPendingImage claims the oldest PENDING image for the build worker, or
// returns ErrNotFound when the queue is empty.
func (s *Store) NextPendingImage() (*models.CustomImage, error) {
	var img models.CustomImage
	err := s.db.
		Where("status = ? AND deleted_at IS NULL", models.ImagePending).
		Order("created_at asc").
		First(&img).Error
	if err != nil {
		return nil, translate(err)
	}
	return &img, nil
}

// SoftDeleteImage marks an image as deleted without breaking its version
// chain.
func (s *Store) SoftDeleteImage(id string, at time.Time) error {
	res := s.db.Model(&models.CustomImage{}).Where("id = ?", id).Update("deleted_at", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendBuildLog appends one build log line.
func (s *Store) AppendBuildLog(log *models.ImageBuildLog) error {
	return translate(s.db.Create(log).Error)
}

// ListBuildLogs returns all log lines of a build ordered by timestamp.
func (s *Store) ListBuildLogs(imageID string) ([]*models.ImageBuildLog, error) {
	var logs []*models.ImageBuildLog
	err := s.db.Where("image_id = ?", imageID).Order("created_at asc, id asc").Find(&logs).Error
	return logs, translate(err)
}
