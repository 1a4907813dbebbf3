// Package dnssync pushes zone state to the authoritative DNS server. Zone
// files and config snippets are written atomically, the server is reloaded
// over its control endpoint, and every push is recorded in the sync log.
package dnssync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/dnszone"
	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// Manager synchronizes zones with the DNS server.
type Manager struct {
	store    *store.Store
	reloader Reloader
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      config.DNSConfig

	// mu makes zone file generation and reloads mutually exclusive, so a
	// full resync never interleaves with single-zone pushes.
	mu sync.Mutex
}

// NewManager wires the DNS sync manager.
func NewManager(st *store.Store, reloader Reloader, notifier notify.Notifier, cfg config.DNSConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		reloader: reloader,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// SyncZone regenerates one zone on disk and reloads the DNS server. Active
// zones get a fresh serial; suspended and deleted zones are tombstoned by
// removing their files.
func (m *Manager) SyncZone(ctx context.Context, zoneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncZoneLocked(ctx, zoneID, true)
}

func (m *Manager) syncZoneLocked(ctx context.Context, zoneID string, reload bool) error {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		return err
	}

	log := &models.DNSSyncLog{
		ZoneID:    zone.ID,
		ZoneName:  zone.ZoneName,
		State:     models.SyncPending,
		StartedAt: time.Now().UTC(),
	}
	if err := m.store.CreateSyncLog(log); err != nil {
		return err
	}

	err = m.writeZone(ctx, zone)
	if err == nil && reload {
		err = m.reloader.Reload(ctx)
	}

	log.Serial = zone.LastUpdatedSerial
	log.FinishedAt = time.Now().UTC()
	if err != nil {
		log.State = models.SyncFailed
		log.Error = err.Error()
		if logErr := m.store.UpdateSyncLog(log); logErr != nil {
			m.logger.Error("failed to record sync failure", "zone", zone.ZoneName, "error", logErr)
		}
		m.notifier.Notify(ctx, notify.Event{
			Type:    notify.EventZoneSyncFailed,
			Message: fmt.Sprintf("zone %s sync failed: %v", zone.ZoneName, err),
		})
		return err
	}

	log.State = models.SyncSuccess
	if err := m.store.UpdateSyncLog(log); err != nil {
		m.logger.Error("failed to record sync success", "zone", zone.ZoneName, "error", err)
	}
	m.logger.Info("zone synced", "zone", zone.ZoneName, "serial", zone.LastUpdatedSerial)
	return nil
}

// writeZone renders the zone file and config snippet for an active zone, or
// removes both for an inactive one. The new serial is persisted before the
// files are written so a crash never reuses a published serial.
func (m *Manager) writeZone(ctx context.Context, zone *models.DNSZone) error {
	zonePath := filepath.Join(m.cfg.ZoneDir, zone.ZoneName+".zone")
	confPath := filepath.Join(m.cfg.ConfigDir, zone.ZoneName+".conf")

	if zone.Status != models.ZoneActive {
		for _, path := range []string{zonePath, confPath} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
		}
		return nil
	}

	records, err := m.store.ListRecords(zone.ID)
	if err != nil {
		return err
	}

	zone.LastUpdatedSerial = dnszone.NextSerial(zone.LastUpdatedSerial, time.Now().UTC())
	if err := m.store.UpdateZone(zone); err != nil {
		return err
	}

	if err := os.MkdirAll(m.cfg.ZoneDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(m.cfg.ConfigDir, 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(zonePath, []byte(dnszone.GenerateZoneFile(zone, records))); err != nil {
		return fmt.Errorf("failed to write zone file: %w", err)
	}
	if err := writeFileAtomic(confPath, []byte(configSnippet(zone, zonePath))); err != nil {
		return fmt.Errorf("failed to write zone config: %w", err)
	}
	return nil
}

// RegenerateAll rewrites every zone and reloads once at the end. Used on
// startup and by the periodic resync job to converge the DNS server with
// the database.
func (m *Manager) RegenerateAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zones, err := m.store.ListZones("")
	if err != nil {
		return err
	}

	var failed int
	for _, zone := range zones {
		if err := m.syncZoneLocked(ctx, zone.ID, false); err != nil {
			failed++
		}
	}
	if err := m.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("dns reload after resync failed: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d zones failed to sync", failed, len(zones))
	}
	m.logger.Info("full zone resync done", "zones", len(zones))
	return nil
}

// PublishSubscriptionZone creates or refreshes the auto-managed zone of a
// subscription, seeds the standard records at the container address and
// pushes the result. The domain is the subscription's fully qualified
// service name and becomes the zone name.
func (m *Manager) PublishSubscriptionZone(ctx context.Context, sub *models.Subscription, domain, ip string) error {
	zoneName := domain
	if zoneName == "" {
		return fmt.Errorf("subscription %s has no domain", sub.ID)
	}

	zone, err := m.store.GetZoneBySubscription(sub.ID)
	if errors.Is(err, store.ErrNotFound) {
		zone = &models.DNSZone{
			ID:             uuid.NewString(),
			ZoneName:       zoneName,
			SubscriptionID: &sub.ID,
			Status:         models.ZoneActive,
			PrimaryNS:      m.cfg.PrimaryNS,
			AdminEmail:     m.cfg.AdminEmail,
			Nameservers:    m.cfg.Nameservers,
			Refresh:        7200,
			Retry:          3600,
			Expire:         1209600,
			Minimum:        3600,
			DefaultTTL:     m.cfg.DefaultTTL,
		}
		if err := m.store.CreateZone(zone); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if zone.Status != models.ZoneActive {
		zone.Status = models.ZoneActive
		if err := m.store.UpdateZone(zone); err != nil {
			return err
		}
	}

	// Replace the auto-published records; customer records are untouched.
	if err := m.store.DeleteSystemRecords(zone.ID); err != nil {
		return err
	}
	for _, rec := range dnszone.DefaultRecords(zone.ID, ip) {
		if err := m.store.CreateRecord(rec); err != nil {
			return err
		}
	}

	return m.SyncZone(ctx, zone.ID)
}

// RetireSubscriptionZone tombstones the auto-managed zone of a terminated
// subscription. Customer records stay in the database for a possible export
// but the zone is no longer served.
func (m *Manager) RetireSubscriptionZone(ctx context.Context, subscriptionID string) error {
	zone, err := m.store.GetZoneBySubscription(subscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	zone.Status = models.ZoneDeleted
	if err := m.store.UpdateZone(zone); err != nil {
		return err
	}
	if err := m.store.DeleteSystemRecords(zone.ID); err != nil {
		return err
	}
	return m.SyncZone(ctx, zone.ID)
}

// writeFileAtomic writes via a temp file and rename so the DNS server never
// reads a half-written file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// configSnippet renders the per-zone server config include.
func configSnippet(zone *models.DNSZone, zonePath string) string {
	return fmt.Sprintf("zone \"%s\" {\n    type master;\n    file \"%s\";\n};\n", zone.ZoneName, zonePath)
}
