// Package lifecycle orchestrates subscription and container state. All
// mutating operations take a per-subscription lock so concurrent API calls
// and background jobs cannot interleave transitions on the same tenant.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/runtime"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// ErrImageNotSelectable is returned when a subscription references a custom
// image that is not completed and approved.
var ErrImageNotSelectable = errors.New("custom image is not selectable")

// DNSPublisher manages the auto-published zone of a subscription.
type DNSPublisher interface {
	PublishSubscriptionZone(ctx context.Context, sub *models.Subscription, domain, ip string) error
	RetireSubscriptionZone(ctx context.Context, subscriptionID string) error
}

// ProxyRouter manages the reverse-proxy route of a subscription.
type ProxyRouter interface {
	AddServiceRoute(ctx context.Context, domain, targetAddress string, port int) error
	RemoveServiceRoute(ctx context.Context, domain string) error
}

// Manager drives provisioning, suspension, termination and container power
// operations.
type Manager struct {
	store     *store.Store
	runtime   runtime.Runtime
	dns       DNSPublisher
	router    ProxyRouter
	notifier  notify.Notifier
	logger    *slog.Logger
	allocator *Allocator

	netCfg config.NetworkConfig
	rtCfg  config.RuntimeConfig

	locks keyedMutex
}

// NewManager wires the lifecycle manager.
func NewManager(
	st *store.Store,
	rt runtime.Runtime,
	dns DNSPublisher,
	router ProxyRouter,
	notifier notify.Notifier,
	netCfg config.NetworkConfig,
	rtCfg config.RuntimeConfig,
	logger *slog.Logger,
) (*Manager, error) {
	allocator, err := NewAllocator(&netCfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:     st,
		runtime:   rt,
		dns:       dns,
		router:    router,
		notifier:  notifier,
		logger:    logger,
		allocator: allocator,
		netCfg:    netCfg,
		rtCfg:     rtCfg,
	}, nil
}

// keyedMutex serializes operations per subscription.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := k.locks[key]; !ok {
		k.locks[key] = &sync.Mutex{}
	}
	return k.locks[key]
}

func (m *Manager) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.rtCfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.rtCfg.OperationTimeout)
}

// Domain returns the public domain a subscription is served under.
func (m *Manager) Domain(sub *models.Subscription) string {
	if strings.Contains(sub.Hostname, ".") {
		return sub.Hostname
	}
	return sub.Hostname + "." + m.netCfg.DomainSuffix
}

// Provision creates and starts the container for a subscription. The
// operation is idempotent: if a non-terminated container already exists it
// is returned as-is, so retried tasks never create duplicates.
func (m *Manager) Provision(ctx context.Context, subscriptionID string) (*models.Container, error) {
	lock := m.locks.get(subscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}

	if existing, err := m.store.GetActiveContainer(subscriptionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if sub.Status == models.SubscriptionPending {
		if err := sub.SetStatus(models.SubscriptionProvisioning); err != nil {
			return nil, err
		}
		if err := m.store.UpdateSubscription(sub); err != nil {
			return nil, err
		}
	}
	if sub.Status != models.SubscriptionProvisioning && sub.Status != models.SubscriptionActive {
		return nil, fmt.Errorf("%w: cannot provision subscription in %s", models.ErrInvalidTransition, sub.Status)
	}

	imageRef, err := m.resolveImage(sub)
	if err != nil {
		return nil, err
	}

	ips, ports, err := m.store.AllocatedAddresses()
	if err != nil {
		return nil, err
	}
	ip, err := m.allocator.AllocateIP(ips)
	if err != nil {
		return nil, err
	}
	sshPort, err := m.allocator.AllocatePort(ports)
	if err != nil {
		return nil, err
	}

	c := &models.Container{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Name:           containerName(sub),
		Image:          imageRef,
		Status:         models.ContainerCreating,
		IPAddress:      ip,
		SSHPort:        sshPort,
		Hostname:       sub.Hostname,
	}
	c.VolumePath = filepath.Join(m.netCfg.VolumeBaseDir, c.ID)
	if err := m.store.CreateContainer(c); err != nil {
		return nil, err
	}

	if err := m.bringUp(ctx, sub, c); err != nil {
		m.markError(c, err)
		m.notifier.Notify(ctx, notify.Event{
			Type:           notify.EventContainerError,
			SubscriptionID: sub.ID,
			ContainerID:    c.ID,
			Message:        err.Error(),
		})
		return nil, err
	}

	if sub.Status == models.SubscriptionProvisioning {
		if err := sub.SetStatus(models.SubscriptionActive); err != nil {
			return nil, err
		}
		if err := m.store.UpdateSubscription(sub); err != nil {
			return nil, err
		}
	}

	m.notifier.Notify(ctx, notify.Event{
		Type:           notify.EventProvisioned,
		SubscriptionID: sub.ID,
		ContainerID:    c.ID,
		Message:        fmt.Sprintf("container %s provisioned at %s", c.Name, m.Domain(sub)),
	})
	m.logger.Info("subscription provisioned",
		"subscription_id", sub.ID, "container_id", c.ID, "ip", ip, "ssh_port", sshPort)
	return c, nil
}

// bringUp performs the runtime side of provisioning: volume, image, create,
// start, then publishes DNS and the proxy route.
func (m *Manager) bringUp(ctx context.Context, sub *models.Subscription, c *models.Container) error {
	if err := os.MkdirAll(c.VolumePath, 0o750); err != nil {
		return fmt.Errorf("failed to create data volume: %w", err)
	}

	opCtx, cancel := m.opCtx(ctx)
	defer cancel()

	if err := m.runtime.PullImage(opCtx, c.Image); err != nil {
		return err
	}

	plan := sub.Plan
	runtimeID, err := m.runtime.CreateContainer(opCtx, runtime.CreateSpec{
		Name:       c.Name,
		Image:      c.Image,
		Hostname:   sub.Hostname,
		Network:    m.netCfg.DockerNetwork,
		IPAddress:  c.IPAddress,
		SSHPort:    c.SSHPort,
		CPUCores:   plan.CPUCores,
		MemoryMB:   plan.MemoryMB,
		StorageGB:  plan.StorageGB,
		VolumePath: c.VolumePath,
		Labels: map[string]string{
			"io.stackhost.subscription": sub.ID,
			"io.stackhost.customer":     sub.CustomerID,
		},
	})
	if err != nil {
		return err
	}
	c.RuntimeID = runtimeID
	if err := m.store.UpdateContainer(c); err != nil {
		return err
	}

	if err := m.runtime.StartContainer(opCtx, runtimeID); err != nil {
		return err
	}
	if err := m.waitRunning(opCtx, runtimeID); err != nil {
		return err
	}
	c.MarkStarted(time.Now().UTC())
	if err := c.SetStatus(models.ContainerRunning); err != nil {
		return err
	}
	if err := m.store.UpdateContainer(c); err != nil {
		return err
	}

	if err := m.dns.PublishSubscriptionZone(ctx, sub, m.Domain(sub), c.IPAddress); err != nil {
		return fmt.Errorf("failed to publish dns zone: %w", err)
	}
	if err := m.router.AddServiceRoute(ctx, m.Domain(sub), c.IPAddress, 80); err != nil {
		return fmt.Errorf("failed to add proxy route: %w", err)
	}
	return nil
}

func (m *Manager) resolveImage(sub *models.Subscription) (string, error) {
	if sub.CustomImageID == nil {
		if sub.Plan == nil {
			return "", fmt.Errorf("subscription %s has no plan loaded", sub.ID)
		}
		return sub.Plan.BaseImage, nil
	}
	img, err := m.store.GetImage(*sub.CustomImageID)
	if err != nil {
		return "", err
	}
	if !img.Selectable() {
		return "", fmt.Errorf("%w: image %s is %s", ErrImageNotSelectable, img.ID, img.Status)
	}
	return img.Reference(), nil
}

// markError records a provisioning failure on the container row. The row is
// kept so operators can inspect and retry.
func (m *Manager) markError(c *models.Container, cause error) {
	c.ErrorMessage = cause.Error()
	if err := c.SetStatus(models.ContainerError); err == nil {
		if err := m.store.UpdateContainer(c); err != nil {
			m.logger.Error("failed to persist container error state", "container_id", c.ID, "error", err)
		}
	}
}

// Suspend stops a subscription's container and removes its proxy route. The
// data volume and DNS zone are kept.
func (m *Manager) Suspend(ctx context.Context, subscriptionID string) error {
	lock := m.locks.get(subscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}
	if err := sub.SetStatus(models.SubscriptionSuspended); err != nil {
		return err
	}

	c, err := m.store.GetActiveContainer(subscriptionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if c != nil && c.Status == models.ContainerRunning {
		if err := m.stopContainer(ctx, c); err != nil {
			return err
		}
	}

	if err := m.router.RemoveServiceRoute(ctx, m.Domain(sub)); err != nil {
		m.logger.Warn("failed to remove proxy route on suspend", "subscription_id", sub.ID, "error", err)
	}

	if err := m.store.UpdateSubscription(sub); err != nil {
		return err
	}
	m.notifier.Notify(ctx, notify.Event{
		Type:           notify.EventSuspended,
		SubscriptionID: sub.ID,
		Message:        "subscription suspended",
	})
	return nil
}

// Resume restarts a suspended subscription.
func (m *Manager) Resume(ctx context.Context, subscriptionID string) error {
	lock := m.locks.get(subscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}
	if err := sub.SetStatus(models.SubscriptionActive); err != nil {
		return err
	}

	c, err := m.store.GetActiveContainer(subscriptionID)
	if err != nil {
		return err
	}
	if c.Status != models.ContainerRunning {
		if err := m.startContainer(ctx, c); err != nil {
			return err
		}
	}

	if err := m.router.AddServiceRoute(ctx, m.Domain(sub), c.IPAddress, 80); err != nil {
		return err
	}
	return m.store.UpdateSubscription(sub)
}

// Cancel marks a subscription cancelled at the end of its paid period. The
// container keeps running until Terminate is called by the billing job.
func (m *Manager) Cancel(ctx context.Context, subscriptionID string) error {
	lock := m.locks.get(subscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}
	if err := sub.SetStatus(models.SubscriptionCancelled); err != nil {
		return err
	}
	now := time.Now().UTC()
	sub.CancelledAt = &now
	sub.AutoRenew = false
	return m.store.UpdateSubscription(sub)
}

// Terminate tears a subscription down: the container is stopped and removed,
// its DNS zone retired and its proxy route deleted. The data volume is left
// on disk for the final backup sweep.
func (m *Manager) Terminate(ctx context.Context, subscriptionID string) error {
	lock := m.locks.get(subscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}
	if err := sub.SetStatus(models.SubscriptionTerminated); err != nil {
		return err
	}

	c, err := m.store.GetActiveContainer(subscriptionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if c != nil {
		opCtx, cancel := m.opCtx(ctx)
		if c.RuntimeID != "" {
			if err := m.runtime.RemoveContainer(opCtx, c.RuntimeID, true); err != nil {
				cancel()
				return err
			}
		}
		cancel()
		now := time.Now().UTC()
		if c.Status == models.ContainerRunning || c.Status == models.ContainerRebooting {
			c.MarkStopped(now)
		}
		if err := c.SetStatus(models.ContainerTerminated); err != nil {
			return err
		}
		// Release the address and port so future containers can take them.
		c.IPAddress = ""
		c.SSHPort = 0
		if err := m.store.UpdateContainer(c); err != nil {
			return err
		}
	}

	if err := m.dns.RetireSubscriptionZone(ctx, sub.ID); err != nil {
		m.logger.Warn("failed to retire dns zone", "subscription_id", sub.ID, "error", err)
	}
	if err := m.router.RemoveServiceRoute(ctx, m.Domain(sub)); err != nil {
		m.logger.Warn("failed to remove proxy route", "subscription_id", sub.ID, "error", err)
	}

	if err := m.store.UpdateSubscription(sub); err != nil {
		return err
	}
	m.notifier.Notify(ctx, notify.Event{
		Type:           notify.EventTerminated,
		SubscriptionID: sub.ID,
		Message:        "subscription terminated",
	})
	return nil
}

// Start powers on a stopped container.
func (m *Manager) Start(ctx context.Context, containerID string) error {
	c, err := m.store.GetContainer(containerID)
	if err != nil {
		return err
	}
	lock := m.locks.get(c.SubscriptionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock.
	if c, err = m.store.GetContainer(containerID); err != nil {
		return err
	}
	return m.startContainer(ctx, c)
}

// Stop powers off a running container with the configured grace period.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	c, err := m.store.GetContainer(containerID)
	if err != nil {
		return err
	}
	lock := m.locks.get(c.SubscriptionID)
	lock.Lock()
	defer lock.Unlock()

	if c, err = m.store.GetContainer(containerID); err != nil {
		return err
	}
	return m.stopContainer(ctx, c)
}

// Reboot restarts a running container. Stopped containers must be started
// instead; the transition table rejects them here.
func (m *Manager) Reboot(ctx context.Context, containerID string) error {
	c, err := m.store.GetContainer(containerID)
	if err != nil {
		return err
	}
	lock := m.locks.get(c.SubscriptionID)
	lock.Lock()
	defer lock.Unlock()

	if c, err = m.store.GetContainer(containerID); err != nil {
		return err
	}
	if err := c.SetStatus(models.ContainerRebooting); err != nil {
		return err
	}
	if err := m.store.UpdateContainer(c); err != nil {
		return err
	}

	opCtx, cancel := m.opCtx(ctx)
	defer cancel()
	if err := m.runtime.RestartContainer(opCtx, c.RuntimeID, m.rtCfg.StopTimeout); err != nil {
		m.markError(c, err)
		return err
	}
	if err := m.waitRunning(opCtx, c.RuntimeID); err != nil {
		m.markError(c, err)
		return err
	}

	now := time.Now().UTC()
	c.MarkStopped(now)
	c.MarkStarted(now)
	if err := c.SetStatus(models.ContainerRunning); err != nil {
		return err
	}
	return m.store.UpdateContainer(c)
}

func (m *Manager) startContainer(ctx context.Context, c *models.Container) error {
	if err := c.SetStatus(models.ContainerRunning); err != nil {
		return err
	}
	opCtx, cancel := m.opCtx(ctx)
	defer cancel()
	if err := m.runtime.StartContainer(opCtx, c.RuntimeID); err != nil {
		m.markError(c, err)
		return err
	}
	if err := m.waitRunning(opCtx, c.RuntimeID); err != nil {
		m.markError(c, err)
		return err
	}
	c.MarkStarted(time.Now().UTC())
	c.ErrorMessage = ""
	return m.store.UpdateContainer(c)
}

// waitRunning polls the runtime until the container reports running. A
// container that errors or exits right after start is a failed start, not a
// RUNNING row in the database.
func (m *Manager) waitRunning(ctx context.Context, runtimeID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := m.runtime.InspectState(ctx, runtimeID)
		if err != nil {
			return err
		}
		if state.Error != "" {
			return fmt.Errorf("container failed to start: %s", state.Error)
		}
		if state.Running {
			return nil
		}
		if state.ExitCode != 0 {
			return fmt.Errorf("container exited with code %d during start", state.ExitCode)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for container to run: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *Manager) stopContainer(ctx context.Context, c *models.Container) error {
	if err := c.SetStatus(models.ContainerStopped); err != nil {
		return err
	}
	opCtx, cancel := m.opCtx(ctx)
	defer cancel()
	if err := m.runtime.StopContainer(opCtx, c.RuntimeID, m.rtCfg.StopTimeout); err != nil {
		m.markError(c, err)
		return err
	}
	c.MarkStopped(time.Now().UTC())
	return m.store.UpdateContainer(c)
}

func containerName(sub *models.Subscription) string {
	label := sub.Hostname
	if i := strings.IndexByte(label, '.'); i > 0 {
		label = label[:i]
	}
	return fmt.Sprintf("sh-%s-%s", label, sub.ID[:8])
}
