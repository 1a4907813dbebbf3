package models

import (
	"fmt"
	"time"
)

// ImageStatus is the state of a custom image build request.
type ImageStatus string

const (
	ImagePending    ImageStatus = "PENDING"
	ImageValidating ImageStatus = "VALIDATING"
	ImageBuilding   ImageStatus = "BUILDING"
	ImageScanning   ImageStatus = "SCANNING"
	ImageCompleted  ImageStatus = "COMPLETED"
	ImageFailed     ImageStatus = "FAILED"
	ImageRejected   ImageStatus = "REJECTED"
)

// imageTransitions is the build pipeline transition table. Every working
// state may fail; REJECTED is only reachable from COMPLETED by an admin.
var imageTransitions = map[ImageStatus][]ImageStatus{
	ImagePending:    {ImageValidating, ImageFailed},
	ImageValidating: {ImageBuilding, ImageFailed},
	ImageBuilding:   {ImageScanning, ImageFailed},
	ImageScanning:   {ImageCompleted, ImageFailed},
	ImageCompleted:  {ImageRejected},
	ImageFailed:     {},
	ImageRejected:   {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s ImageStatus) CanTransition(next ImageStatus) bool {
	for _, allowed := range imageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s ImageStatus) Terminal() bool {
	return len(imageTransitions[s]) == 0
}

// CustomImage is a customer-supplied container image build request. Rebuilds
// create a new record pointing at the original through PreviousVersionID;
// records are never mutated in place, so the version chain stays auditable.
type CustomImage struct {
	ID                string            `gorm:"primaryKey;size:36" json:"id"`
	CustomerID        string            `gorm:"size:36;not null;index" json:"customer_id"`
	Name              string            `gorm:"size:100;not null;index" json:"name"`
	Tag               string            `gorm:"size:100;not null" json:"tag"`
	Status            ImageStatus       `gorm:"size:20;not null;index" json:"status"`
	Version           int               `gorm:"not null;default:1" json:"version"`
	PreviousVersionID *string           `gorm:"size:36" json:"previous_version_id,omitempty"`
	ArchiveKey        string            `gorm:"size:500;not null" json:"archive_key"`
	ArchiveSize       int64             `json:"archive_size"`
	BuildArgs         map[string]string `gorm:"serializer:json" json:"build_args,omitempty"`
	BuildError        string            `gorm:"size:2000" json:"build_error,omitempty"`
	RuntimeImageID    string            `gorm:"size:128" json:"runtime_image_id,omitempty"`
	RequiresApproval  bool              `json:"requires_approval"`
	Approved          bool              `json:"approved"`
	ApprovedBy        string            `gorm:"size:36" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	DeletedAt         *time.Time        `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SetStatus applies a transition, rejecting edges missing from the table.
func (i *CustomImage) SetStatus(next ImageStatus) error {
	if !i.Status.CanTransition(next) {
		return fmt.Errorf("%w: image %s -> %s", ErrInvalidTransition, i.Status, next)
	}
	i.Status = next
	return nil
}

// Reference returns the image reference used by the runtime, e.g. "name:tag".
func (i *CustomImage) Reference() string {
	return fmt.Sprintf("%s:%s", i.Name, i.Tag)
}

// Selectable reports whether the image may back a subscription. Images gated
// by approval must be approved first.
func (i *CustomImage) Selectable() bool {
	if i.Status != ImageCompleted || i.DeletedAt != nil {
		return false
	}
	if i.RequiresApproval {
		return i.Approved
	}
	return true
}

// ImageBuildLog is one timestamped log line of a build, tagged by step.
type ImageBuildLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ImageID   string    `gorm:"size:36;not null;index" json:"image_id"`
	Step      string    `gorm:"size:20;not null" json:"step"`
	Line      string    `gorm:"size:4000" json:"line"`
	CreatedAt time.Time `json:"created_at"`
}
