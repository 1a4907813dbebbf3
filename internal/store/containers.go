package store

import (
	"time"

	"github.com/stackhost-io/stackhost/models"
)

// CreateContainer inserts a new container row.
func (s *Store) CreateContainer(c *models.Container) error {
	return translate(s.db.Create(c).Error)
}

// GetContainer fetches a container by ID.
func (s *Store) GetContainer(id string) (*models.Container, error) {
	var c models.Container
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetActiveContainer returns the single non-terminated container of a
// subscription, or ErrNotFound. This is the query backing the 1:1 invariant.
func (s *Store) GetActiveContainer(subscriptionID string) (*models.Container, error) {
	var c models.Container
	err := s.db.
		Where("subscription_id = ? AND status <> ?", subscriptionID, models.ContainerTerminated).
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// UpdateContainer persists container changes.
func (s *Store) UpdateContainer(c *models.Container) error {
	return translate(s.db.Save(c).Error)
}

// ListContainers lists containers, optionally filtered by status.
func (s *Store) ListContainers(status models.ContainerStatus) ([]*models.Container, error) {
	q := s.db.Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var containers []*models.Container
	return containers, translate(q.Find(&containers).Error)
}

// AllocatedAddresses returns the IP addresses and SSH ports held by
// non-terminated containers, for the allocator to skip.
func (s *Store) AllocatedAddresses() (ips map[string]bool, ports map[int]bool, err error) {
	var rows []struct {
		IPAddress string
		SSHPort   int
	}
	err = s.db.Model(&models.Container{}).
		Where("status <> ?", models.ContainerTerminated).
		Select("ip_address", "ssh_port").
		Scan(&rows).Error
	if err != nil {
		return nil, nil, translate(err)
	}

	ips = make(map[string]bool, len(rows))
	ports = make(map[int]bool, len(rows))
	for _, r := range rows {
		if r.IPAddress != "" {
			ips[r.IPAddress] = true
		}
		if r.SSHPort != 0 {
			ports[r.SSHPort] = true
		}
	}
	return ips, ports, nil
}

// InsertMetric appends one metric sample.
func (s *Store) InsertMetric(m *models.ContainerMetric) error {
	return translate(s.db.Create(m).Error)
}

// ListMetrics returns samples for a container recorded after since, oldest
// first.
func (s *Store) ListMetrics(containerID string, since time.Time) ([]*models.ContainerMetric, error) {
	var metrics []*models.ContainerMetric
	err := s.db.
		Where("container_id = ? AND recorded_at > ?", containerID, since).
		Order("recorded_at asc").
		Find(&metrics).Error
	return metrics, translate(err)
}

// PruneMetrics deletes samples older than the cutoff and reports how many
// rows were removed.
func (s *Store) PruneMetrics(olderThan time.Time) (int64, error) {
	res := s.db.Where("recorded_at < ?", olderThan).Delete(&models.ContainerMetric{})
	return res.RowsAffected, translate(res.Error)
}
