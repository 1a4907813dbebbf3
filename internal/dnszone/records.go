package dnszone

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/stackhost-io/stackhost/models"
)

var (
	// ErrDuplicateRecord is returned when a (name, type) pair already exists
	// in the zone for a non-system record.
	ErrDuplicateRecord = errors.New("record with this name and type already exists in zone")
	// ErrInvalidRecord is returned for malformed record data.
	ErrInvalidRecord = errors.New("invalid record")
)

// ValidateRecord checks a record against its type requirements and against
// the zone's existing records. Validation failures are synchronous and never
// retried; no state is mutated when an error is returned.
func ValidateRecord(rec *models.DNSRecord, existing []*models.DNSRecord) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, rec.Type)
	}
	if rec.Value == "" {
		return fmt.Errorf("%w: value is required", ErrInvalidRecord)
	}
	if strings.ContainsAny(rec.Name, " \t") {
		return fmt.Errorf("%w: name must not contain whitespace", ErrInvalidRecord)
	}

	switch rec.Type {
	case models.RecordA:
		ip := net.ParseIP(rec.Value)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: A record requires an IPv4 address, got %q", ErrInvalidRecord, rec.Value)
		}
	case models.RecordAAAA:
		ip := net.ParseIP(rec.Value)
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("%w: AAAA record requires an IPv6 address, got %q", ErrInvalidRecord, rec.Value)
		}
	case models.RecordMX:
		if rec.Priority < 0 || rec.Priority > 65535 {
			return fmt.Errorf("%w: MX priority out of range", ErrInvalidRecord)
		}
	case models.RecordSRV:
		if rec.Priority < 0 || rec.Weight < 0 || rec.Port <= 0 || rec.Port > 65535 {
			return fmt.Errorf("%w: SRV requires priority, weight and a valid port", ErrInvalidRecord)
		}
	}

	// System records (published by the lifecycle manager) may coexist with
	// customer records of the same name and type.
	if rec.System {
		return nil
	}
	for _, other := range existing {
		if other.ID == rec.ID || other.System {
			continue
		}
		if strings.EqualFold(other.Name, rec.Name) && other.Type == rec.Type {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateRecord, rec.Name, rec.Type)
		}
	}
	return nil
}

// DefaultRecords returns the records seeded into a freshly created
// subscription zone: the container address at the apex plus conventional
// www and mail aliases.
func DefaultRecords(zoneID, ipAddress string) []*models.DNSRecord {
	return []*models.DNSRecord{
		{ZoneID: zoneID, Name: "@", Type: models.RecordA, Value: ipAddress, System: true},
		{ZoneID: zoneID, Name: "www", Type: models.RecordA, Value: ipAddress, System: true},
		{ZoneID: zoneID, Name: "mail", Type: models.RecordCNAME, Value: "www", System: true},
	}
}
