package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    SubscriptionStatus
		to      SubscriptionStatus
		allowed bool
	}{
		{"pending to provisioning", SubscriptionPending, SubscriptionProvisioning, true},
		{"pending to active skips provisioning", SubscriptionPending, SubscriptionActive, false},
		{"provisioning to active", SubscriptionProvisioning, SubscriptionActive, true},
		{"active to suspended", SubscriptionActive, SubscriptionSuspended, true},
		{"suspended back to active", SubscriptionSuspended, SubscriptionActive, true},
		{"terminated is terminal", SubscriptionTerminated, SubscriptionActive, false},
		{"cancelled to terminated", SubscriptionCancelled, SubscriptionTerminated, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSubscriptionSetStatusRejectsInvalidEdge(t *testing.T) {
	sub := &Subscription{Status: SubscriptionPending}

	err := sub.SetStatus(SubscriptionActive)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, SubscriptionPending, sub.Status, "status must not change on rejection")

	require.NoError(t, sub.SetStatus(SubscriptionProvisioning))
	assert.Equal(t, SubscriptionProvisioning, sub.Status)
}

func TestContainerTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ContainerStatus
		to      ContainerStatus
		allowed bool
	}{
		{"creating to running", ContainerCreating, ContainerRunning, true},
		{"running to stopped", ContainerRunning, ContainerStopped, true},
		{"stopped to running", ContainerStopped, ContainerRunning, true},
		{"error to terminated", ContainerError, ContainerTerminated, true},
		{"terminated is irreversible", ContainerTerminated, ContainerRunning, false},
		{"stopped cannot reboot", ContainerStopped, ContainerRebooting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestContainerUptimeAccounting(t *testing.T) {
	c := &Container{Status: ContainerCreating}
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	c.MarkStarted(start)
	require.NotNil(t, c.FirstStartedAt)
	assert.Equal(t, start, *c.FirstStartedAt)

	c.MarkStopped(start.Add(90 * time.Second))
	assert.Equal(t, int64(90), c.UptimeSeconds)

	// Second run keeps the first-start timestamp and accumulates uptime.
	c.MarkStarted(start.Add(10 * time.Minute))
	assert.Equal(t, start, *c.FirstStartedAt)
	c.MarkStopped(start.Add(10*time.Minute + 30*time.Second))
	assert.Equal(t, int64(120), c.UptimeSeconds)
}

func TestImagePipelineTransitions(t *testing.T) {
	// An image cannot move past BUILDING without passing VALIDATING first.
	assert.False(t, ImagePending.CanTransition(ImageBuilding))
	assert.True(t, ImagePending.CanTransition(ImageValidating))
	assert.True(t, ImageValidating.CanTransition(ImageBuilding))
	assert.True(t, ImageBuilding.CanTransition(ImageScanning))
	assert.True(t, ImageScanning.CanTransition(ImageCompleted))

	// Only COMPLETED images may be rejected.
	assert.True(t, ImageCompleted.CanTransition(ImageRejected))
	assert.False(t, ImageBuilding.CanTransition(ImageRejected))

	// Every working state may fail; terminals may not.
	for _, s := range []ImageStatus{ImagePending, ImageValidating, ImageBuilding, ImageScanning} {
		assert.True(t, s.CanTransition(ImageFailed), "state %s", s)
	}
	assert.True(t, ImageFailed.Terminal())
	assert.True(t, ImageRejected.Terminal())
}

func TestImageSelectable(t *testing.T) {
	img := &CustomImage{Status: ImageCompleted}
	assert.True(t, img.Selectable())

	img.RequiresApproval = true
	assert.False(t, img.Selectable(), "approval gate must hold")

	img.Approved = true
	assert.True(t, img.Selectable())

	img.Status = ImageBuilding
	assert.False(t, img.Selectable())
}
