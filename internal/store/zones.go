package store

import "github.com/stackhost-io/stackhost/models"

// CreateZone inserts a new DNS zone.
func (s *Store) CreateZone(zone *models.DNSZone) error {
	return translate(s.db.Create(zone).Error)
}

// GetZone fetches a zone by ID.
func (s *Store) GetZone(id string) (*models.DNSZone, error) {
	var zone models.DNSZone
	if err := s.db.First(&zone, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &zone, nil
}

// GetZoneByName fetches a zone by its zone name.
func (s *Store) GetZoneByName(name string) (*models.DNSZone, error) {
	var zone models.DNSZone
	if err := s.db.First(&zone, "zone_name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &zone, nil
}

// GetZoneBySubscription fetches the auto-managed zone of a subscription.
func (s *Store) GetZoneBySubscription(subscriptionID string) (*models.DNSZone, error) {
	var zone models.DNSZone
	if err := s.db.First(&zone, "subscription_id = ?", subscriptionID).Error; err != nil {
		return nil, translate(err)
	}
	return &zone, nil
}

// UpdateZone persists zone changes.
func (s *Store) UpdateZone(zone *models.DNSZone) error {
	return translate(s.db.Save(zone).Error)
}

// ListZones lists all zones, optionally filtered by status.
func (s *Store) ListZones(status models.ZoneStatus) ([]*models.DNSZone, error) {
	q := s.db.Order("zone_name asc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var zones []*models.DNSZone
	return zones, translate(q.Find(&zones).Error)
}

// CreateRecord inserts a DNS record.
func (s *Store) CreateRecord(rec *models.DNSRecord) error {
	return translate(s.db.Create(rec).Error)
}

// GetRecord fetches a record by ID.
func (s *Store) GetRecord(id string) (*models.DNSRecord, error) {
	var rec models.DNSRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

// UpdateRecord persists record changes.
func (s *Store) UpdateRecord(rec *models.DNSRecord) error {
	return translate(s.db.Save(rec).Error)
}

// DeleteRecord removes a record.
func (s *Store) DeleteRecord(id string) error {
	res := s.db.Delete(&models.DNSRecord{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSystemRecords removes the auto-published records of a zone, used
// when a container is terminated.
func (s *Store) DeleteSystemRecords(zoneID string) error {
	return translate(s.db.Delete(&models.DNSRecord{}, "zone_id = ? AND system = ?", zoneID, true).Error)
}

// ListRecords returns all records of a zone.
func (s *Store) ListRecords(zoneID string) ([]*models.DNSRecord, error) {
	var recs []*models.DNSRecord
	err := s.db.Where("zone_id = ?", zoneID).Order("name asc, type asc").Find(&recs).Error
	return recs, translate(err)
}

// CreateSyncLog appends a sync attempt row.
func (s *Store) CreateSyncLog(log *models.DNSSyncLog) error {
	return translate(s.db.Create(log).Error)
}

// UpdateSyncLog records the outcome of a sync attempt.
func (s *Store) UpdateSyncLog(log *models.DNSSyncLog) error {
	return translate(s.db.Save(log).Error)
}

// ListSyncLogs returns the push audit trail of a zone, newest first.
func (s *Store) ListSyncLogs(zoneID string, limit int) ([]*models.DNSSyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []*models.DNSSyncLog
	err := s.db.Where("zone_id = ?", zoneID).Order("started_at desc").Limit(limit).Find(&logs).Error
	return logs, translate(err)
}
