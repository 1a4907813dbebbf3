package models

import "time"

// ContainerMetric is one time-series sample for a container. Rows are
// append-only and pruned by the retention job.
type ContainerMetric struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ContainerID  string    `gorm:"size:36;not null;index:idx_container_recorded" json:"container_id"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemoryBytes  int64     `json:"memory_bytes"`
	StorageBytes int64     `json:"storage_bytes"`
	NetworkRxB   int64     `json:"network_rx_bytes"`
	NetworkTxB   int64     `json:"network_tx_bytes"`
	BlockReadB   int64     `json:"block_read_bytes"`
	BlockWriteB  int64     `json:"block_write_bytes"`
	ProcessCount int       `json:"process_count"`
	RecordedAt   time.Time `gorm:"not null;index:idx_container_recorded" json:"recorded_at"`
}
