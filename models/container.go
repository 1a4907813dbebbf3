package models

import (
	"fmt"
	"time"
)

// ContainerStatus is the runtime state of a customer container.
type ContainerStatus string

const (
	ContainerCreating   ContainerStatus = "CREATING"
	ContainerRunning    ContainerStatus = "RUNNING"
	ContainerStopped    ContainerStatus = "STOPPED"
	ContainerRebooting  ContainerStatus = "REBOOTING"
	ContainerError      ContainerStatus = "ERROR"
	ContainerTerminated ContainerStatus = "TERMINATED"
)

// containerTransitions is the exhaustive transition table. TERMINATED is the
// only irreversible state; ERROR containers may still be terminated or
// recovered by a retried start.
var containerTransitions = map[ContainerStatus][]ContainerStatus{
	ContainerCreating:   {ContainerRunning, ContainerError, ContainerTerminated},
	ContainerRunning:    {ContainerStopped, ContainerRebooting, ContainerError, ContainerTerminated},
	ContainerStopped:    {ContainerRunning, ContainerError, ContainerTerminated},
	ContainerRebooting:  {ContainerRunning, ContainerError, ContainerTerminated},
	ContainerError:      {ContainerRunning, ContainerStopped, ContainerTerminated},
	ContainerTerminated: {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s ContainerStatus) CanTransition(next ContainerStatus) bool {
	for _, allowed := range containerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s ContainerStatus) Terminal() bool {
	return len(containerTransitions[s]) == 0
}

// Container is the runtime unit owned by a subscription. The data volume at
// VolumePath is the unit of backup and restore.
type Container struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	SubscriptionID string          `gorm:"size:36;not null;index" json:"subscription_id"`
	RuntimeID      string          `gorm:"size:128;index" json:"runtime_id"`
	Name           string          `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Image          string          `gorm:"size:255;not null" json:"image"`
	Status         ContainerStatus `gorm:"size:20;not null;index" json:"status"`
	// Terminated containers release their address and port; the partial
	// indexes enforce uniqueness only over rows still holding one.
	IPAddress      string          `gorm:"size:45;uniqueIndex:idx_containers_ip_address,where:ip_address <> ''" json:"ip_address"`
	SSHPort        int             `gorm:"uniqueIndex:idx_containers_ssh_port,where:ssh_port <> 0" json:"ssh_port"`
	Hostname       string          `gorm:"size:255;not null" json:"hostname"`
	VolumePath     string          `gorm:"size:500" json:"volume_path"`
	ErrorMessage   string          `gorm:"size:1000" json:"error_message,omitempty"`
	FirstStartedAt *time.Time      `json:"first_started_at,omitempty"`
	LastStartedAt  *time.Time      `json:"last_started_at,omitempty"`
	LastStoppedAt  *time.Time      `json:"last_stopped_at,omitempty"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SetStatus applies a transition, rejecting edges missing from the table.
func (c *Container) SetStatus(next ContainerStatus) error {
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: container %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	c.Status = next
	return nil
}

// MarkStarted records start timestamps when a container comes up.
func (c *Container) MarkStarted(now time.Time) {
	if c.FirstStartedAt == nil {
		c.FirstStartedAt = &now
	}
	c.LastStartedAt = &now
}

// MarkStopped records the stop timestamp and accumulates uptime.
func (c *Container) MarkStopped(now time.Time) {
	c.LastStoppedAt = &now
	if c.LastStartedAt != nil && now.After(*c.LastStartedAt) {
		c.UptimeSeconds += int64(now.Sub(*c.LastStartedAt).Seconds())
	}
}
