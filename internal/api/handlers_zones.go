package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stackhost-io/stackhost/internal/dnszone"
	"github.com/stackhost-io/stackhost/models"
)

// listZones handles GET /api/v1/zones
func (s *Server) listZones(c echo.Context) error {
	var status models.ZoneStatus
	if raw := c.QueryParam("status"); raw != "" {
		status = models.ZoneStatus(raw)
		switch status {
		case models.ZoneActive, models.ZoneSuspended, models.ZoneDeleted:
		default:
			return BadRequestError("invalid status parameter", raw)
		}
	}
	limit, offset := parsePagination(c)

	zones, err := s.deps.Store.ListZones(status)
	if err != nil {
		return InternalError("failed to list zones", err.Error())
	}
	return c.JSON(http.StatusOK, paginate(zones, limit, offset))
}

// getZone handles GET /api/v1/zones/:id
func (s *Server) getZone(c echo.Context) error {
	zone, err := s.deps.Store.GetZone(c.Param("id"))
	if err != nil {
		return domainError("zone", err)
	}
	return c.JSON(http.StatusOK, zone)
}

// createZone handles POST /api/v1/zones. Standalone zones are for domains
// not bound to a subscription; SOA defaults come from the DNS config.
func (s *Server) createZone(c echo.Context) error {
	var req CreateZoneRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	zone := &models.DNSZone{
		ID:          uuid.NewString(),
		ZoneName:    req.ZoneName,
		Status:      models.ZoneActive,
		PrimaryNS:   req.PrimaryNS,
		AdminEmail:  req.AdminEmail,
		Nameservers: req.Nameservers,
		Refresh:     7200,
		Retry:       3600,
		Expire:      1209600,
		Minimum:     3600,
		DefaultTTL:  req.DefaultTTL,
	}
	if zone.PrimaryNS == "" {
		zone.PrimaryNS = s.config.DNS.PrimaryNS
	}
	if zone.AdminEmail == "" {
		zone.AdminEmail = s.config.DNS.AdminEmail
	}
	if len(zone.Nameservers) == 0 {
		zone.Nameservers = s.config.DNS.Nameservers
	}
	if zone.DefaultTTL == 0 {
		zone.DefaultTTL = s.config.DNS.DefaultTTL
	}

	if err := s.deps.Store.CreateZone(zone); err != nil {
		return InternalError("failed to create zone", err.Error())
	}
	return c.JSON(http.StatusCreated, zone)
}

// syncZone handles POST /api/v1/zones/:id/sync
func (s *Server) syncZone(c echo.Context) error {
	zone, err := s.deps.Store.GetZone(c.Param("id"))
	if err != nil {
		return domainError("zone", err)
	}
	if err := s.deps.Zones.SyncZone(c.Request().Context(), zone.ID); err != nil {
		return NewAPIError(http.StatusBadGateway, "zone sync failed", err.Error())
	}
	return okStatus(c)
}

// resyncAllZones handles POST /api/v1/zones/sync
func (s *Server) resyncAllZones(c echo.Context) error {
	if err := s.deps.Zones.RegenerateAll(c.Request().Context()); err != nil {
		return NewAPIError(http.StatusBadGateway, "zone resync failed", err.Error())
	}
	return okStatus(c)
}

// listZoneRecords handles GET /api/v1/zones/:id/records
func (s *Server) listZoneRecords(c echo.Context) error {
	zone, err := s.deps.Store.GetZone(c.Param("id"))
	if err != nil {
		return domainError("zone", err)
	}
	records, err := s.deps.Store.ListRecords(zone.ID)
	if err != nil {
		return InternalError("failed to list records", err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

// createZoneRecord handles POST /api/v1/zones/:id/records. The record is
// validated against the zone's existing records and the zone is pushed to
// the DNS server afterwards.
func (s *Server) createZoneRecord(c echo.Context) error {
	zone, err := s.deps.Store.GetZone(c.Param("id"))
	if err != nil {
		return domainError("zone", err)
	}

	var req CreateRecordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	rec := &models.DNSRecord{
		ID:       uuid.NewString(),
		ZoneID:   zone.ID,
		Name:     req.Name,
		Type:     models.RecordType(req.Type),
		Value:    req.Value,
		TTL:      req.TTL,
		Priority: req.Priority,
		Weight:   req.Weight,
		Port:     req.Port,
	}
	if rec.TTL == 0 {
		rec.TTL = zone.DefaultTTL
	}

	existing, err := s.deps.Store.ListRecords(zone.ID)
	if err != nil {
		return InternalError("failed to list records", err.Error())
	}
	if err := dnszone.ValidateRecord(rec, existing); err != nil {
		return BadRequestError("invalid record", err.Error())
	}

	if err := s.deps.Store.CreateRecord(rec); err != nil {
		return InternalError("failed to create record", err.Error())
	}

	if err := s.deps.Zones.SyncZone(c.Request().Context(), zone.ID); err != nil {
		// The record is persisted; the nightly resync will converge.
		s.logger.Error("zone sync after record create failed", "zone_id", zone.ID, "error", err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// deleteZoneRecord handles DELETE /api/v1/zones/:id/records/:recordId.
// System records are owned by the lifecycle manager and cannot be removed
// by hand.
func (s *Server) deleteZoneRecord(c echo.Context) error {
	zone, err := s.deps.Store.GetZone(c.Param("id"))
	if err != nil {
		return domainError("zone", err)
	}

	rec, err := s.deps.Store.GetRecord(c.Param("recordId"))
	if err != nil {
		return domainError("record", err)
	}
	if rec.ZoneID != zone.ID {
		return NotFoundError("record", rec.ID)
	}
	if rec.System {
		return ConflictError("system records cannot be deleted", rec.ID)
	}

	if err := s.deps.Store.DeleteRecord(rec.ID); err != nil {
		return domainError("record", err)
	}

	if err := s.deps.Zones.SyncZone(c.Request().Context(), zone.ID); err != nil {
		s.logger.Error("zone sync after record delete failed", "zone_id", zone.ID, "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listZoneSyncLogs handles GET /api/v1/zones/:id/synclogs
func (s *Server) listZoneSyncLogs(c echo.Context) error {
	zone, err := s.deps.Store.GetZone(c.Param("id"))
	if err != nil {
		return domainError("zone", err)
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	logs, err := s.deps.Store.ListSyncLogs(zone.ID, limit)
	if err != nil {
		return InternalError("failed to list sync logs", err.Error())
	}
	return c.JSON(http.StatusOK, logs)
}
