package store

import "github.com/stackhost-io/stackhost/models"

// CreateBackup inserts a backup metadata row.
func (s *Store) CreateBackup(b *models.Backup) error {
	return translate(s.db.Create(b).Error)
}

// GetBackup fetches a backup by ID.
func (s *Store) GetBackup(id string) (*models.Backup, error) {
	var b models.Backup
	if err := s.db.First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// ListBackups returns backups for a container, newest first, optionally
// filtered by type.
func (s *Store) ListBackups(containerID string, backupType models.BackupType) ([]*models.Backup, error) {
	q := s.db.Order("created_at desc")
	if containerID != "" {
		q = q.Where("container_id = ?", containerID)
	}
	if backupType != "" {
		q = q.Where("type = ?", backupType)
	}
	var backups []*models.Backup
	return backups, translate(q.Find(&backups).Error)
}

// DeleteBackup removes a backup metadata row after its archive is gone.
func (s *Store) DeleteBackup(id string) error {
	res := s.db.Delete(&models.Backup{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
