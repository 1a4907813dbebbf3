package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// ErrNotApprovable is returned when trying to approve an image that has
// not completed its build.
var ErrNotApprovable = errors.New("only completed images can be approved")

// ErrNotRejectable is returned when trying to reject an image that is not
// completed.
var ErrNotRejectable = errors.New("only completed images can be rejected")

// ArchiveStore is the subset of object storage the request service needs.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}

// Service exposes the image request operations used by the API: submit,
// rebuild, approve, reject and delete. Building itself happens in the
// Pipeline, decoupled through the PENDING queue.
type Service struct {
	store           *store.Store
	objects         ArchiveStore
	requireApproval bool
}

// NewService wires the image request service. When requireApproval is set,
// newly built images need an admin approval before subscriptions may select
// them.
func NewService(st *store.Store, objects ArchiveStore, requireApproval bool) *Service {
	return &Service{store: st, objects: objects, requireApproval: requireApproval}
}

// SubmitRequest is the payload for a new image build request.
type SubmitRequest struct {
	CustomerID string
	Name       string
	Tag        string
	BuildArgs  map[string]string
}

// Submit stores the uploaded build context and enqueues a PENDING image.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, archive io.Reader, size int64) (*models.CustomImage, error) {
	if req.Name == "" || req.Tag == "" {
		return nil, fmt.Errorf("image name and tag are required")
	}

	id := uuid.NewString()
	key := fmt.Sprintf("images/%s/%s.tar.gz", req.CustomerID, id)
	if err := s.objects.Put(ctx, key, archive, size); err != nil {
		return nil, fmt.Errorf("failed to store build context: %w", err)
	}

	img := &models.CustomImage{
		ID:               id,
		CustomerID:       req.CustomerID,
		Name:             req.Name,
		Tag:              req.Tag,
		Status:           models.ImagePending,
		Version:          1,
		ArchiveKey:       key,
		ArchiveSize:      size,
		BuildArgs:        req.BuildArgs,
		RequiresApproval: s.requireApproval,
	}
	if err := s.store.CreateImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Rebuild enqueues a new version of an existing image reusing its stored
// build context. The old record is untouched; the new one points back at it.
func (s *Service) Rebuild(ctx context.Context, imageID string) (*models.CustomImage, error) {
	prev, err := s.store.GetImage(imageID)
	if err != nil {
		return nil, err
	}

	next := &models.CustomImage{
		ID:                uuid.NewString(),
		CustomerID:        prev.CustomerID,
		Name:              prev.Name,
		Tag:               prev.Tag,
		Status:            models.ImagePending,
		Version:           prev.Version + 1,
		PreviousVersionID: &prev.ID,
		ArchiveKey:        prev.ArchiveKey,
		ArchiveSize:       prev.ArchiveSize,
		BuildArgs:         prev.BuildArgs,
		RequiresApproval:  prev.RequiresApproval,
	}
	if err := s.store.CreateImage(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Approve releases a completed approval-gated image for use.
func (s *Service) Approve(ctx context.Context, imageID, adminID string) (*models.CustomImage, error) {
	img, err := s.store.GetImage(imageID)
	if err != nil {
		return nil, err
	}
	if img.Status != models.ImageCompleted {
		return nil, fmt.Errorf("%w: image is %s", ErrNotApprovable, img.Status)
	}
	now := time.Now().UTC()
	img.Approved = true
	img.ApprovedBy = adminID
	img.ApprovedAt = &now
	if err := s.store.UpdateImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Reject withdraws a completed image so it can no longer back subscriptions.
func (s *Service) Reject(ctx context.Context, imageID, adminID string) (*models.CustomImage, error) {
	img, err := s.store.GetImage(imageID)
	if err != nil {
		return nil, err
	}
	if err := img.SetStatus(models.ImageRejected); err != nil {
		return nil, fmt.Errorf("%w: image is %s", ErrNotRejectable, img.Status)
	}
	img.Approved = false
	img.ApprovedBy = adminID
	if err := s.store.UpdateImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Delete soft-deletes an image record and removes its stored build context
// unless a newer version still references it.
func (s *Service) Delete(ctx context.Context, imageID string) error {
	img, err := s.store.GetImage(imageID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteImage(imageID, time.Now().UTC()); err != nil {
		return err
	}

	// Rebuilds share the archive; only drop it when this is the last record.
	shared, err := s.archiveShared(img)
	if err != nil {
		return err
	}
	if !shared {
		if err := s.objects.Delete(ctx, img.ArchiveKey); err != nil {
			return fmt.Errorf("failed to delete build context: %w", err)
		}
	}
	return nil
}

func (s *Service) archiveShared(img *models.CustomImage) (bool, error) {
	siblings, err := s.store.ListImages(img.CustomerID)
	if err != nil {
		return false, err
	}
	for _, other := range siblings {
		if other.ID != img.ID && other.ArchiveKey == img.ArchiveKey {
			return true, nil
		}
	}
	return false, nil
}
