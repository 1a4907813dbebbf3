package models

import "time"

// BackupType is the retention bucket a backup belongs to.
type BackupType string

const (
	BackupDaily      BackupType = "DAILY"
	BackupWeekly     BackupType = "WEEKLY"
	BackupMonthly    BackupType = "MONTHLY"
	BackupPreRestore BackupType = "PRE_RESTORE"
	BackupManual     BackupType = "MANUAL"
)

// Backup is the metadata row for one archived data volume.
type Backup struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	ContainerID    string     `gorm:"size:36;not null;index" json:"container_id"`
	SubscriptionID string     `gorm:"size:36;not null;index" json:"subscription_id"`
	CustomerID     string     `gorm:"size:36;not null;index" json:"customer_id"`
	Type           BackupType `gorm:"size:20;not null" json:"type"`
	LocalPath      string     `gorm:"size:500" json:"local_path,omitempty"`
	StorageKey     string     `gorm:"size:500" json:"storage_key,omitempty"`
	SizeBytes      int64      `json:"size_bytes"`
	Encrypted      bool       `json:"encrypted"`
	CreatedAt      time.Time  `json:"created_at"`
}
