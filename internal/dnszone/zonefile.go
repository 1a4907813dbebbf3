package dnszone

import (
	"fmt"
	"strings"

	"github.com/stackhost-io/stackhost/models"
)

// GenerateZoneFile renders a zone and its records into the text format
// consumed by the DNS server. Output is deterministic: directives, SOA, NS
// lines, then records grouped by the fixed type order, so repeated renders
// of unchanged data are byte-identical and diff-friendly.
func GenerateZoneFile(zone *models.DNSZone, records []*models.DNSRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "$ORIGIN %s.\n", strings.TrimSuffix(zone.ZoneName, "."))
	fmt.Fprintf(&b, "$TTL %d\n\n", zone.DefaultTTL)

	fmt.Fprintf(&b, "@\tIN\tSOA\t%s %s (\n", fqdn(zone.PrimaryNS), soaRName(zone.AdminEmail))
	fmt.Fprintf(&b, "\t\t\t%d\t; serial\n", zone.LastUpdatedSerial)
	fmt.Fprintf(&b, "\t\t\t%d\t; refresh\n", zone.Refresh)
	fmt.Fprintf(&b, "\t\t\t%d\t; retry\n", zone.Retry)
	fmt.Fprintf(&b, "\t\t\t%d\t; expire\n", zone.Expire)
	fmt.Fprintf(&b, "\t\t\t%d )\t; minimum\n\n", zone.Minimum)

	for _, ns := range zone.Nameservers {
		fmt.Fprintf(&b, "@\tIN\tNS\t%s\n", fqdn(ns))
	}
	b.WriteString("\n")

	for _, typ := range models.RecordTypeOrder {
		for _, rec := range records {
			if rec.Type == typ {
				b.WriteString(renderRecord(rec))
			}
		}
	}

	return b.String()
}

// renderRecord renders one record line with optional TTL override and the
// type-specific priority/weight/port fields.
func renderRecord(rec *models.DNSRecord) string {
	name := rec.Name
	if name == "" {
		name = "@"
	}

	ttl := ""
	if rec.TTL > 0 {
		ttl = fmt.Sprintf("%d\t", rec.TTL)
	}

	switch rec.Type {
	case models.RecordMX:
		return fmt.Sprintf("%s\t%sIN\tMX\t%d %s\n", name, ttl, rec.Priority, fqdn(rec.Value))
	case models.RecordSRV:
		return fmt.Sprintf("%s\t%sIN\tSRV\t%d %d %d %s\n", name, ttl, rec.Priority, rec.Weight, rec.Port, fqdn(rec.Value))
	case models.RecordCNAME, models.RecordNS, models.RecordPTR:
		return fmt.Sprintf("%s\t%sIN\t%s\t%s\n", name, ttl, rec.Type, fqdn(rec.Value))
	case models.RecordTXT:
		return fmt.Sprintf("%s\t%sIN\tTXT\t%s\n", name, ttl, quoteTXT(rec.Value))
	default:
		return fmt.Sprintf("%s\t%sIN\t%s\t%s\n", name, ttl, rec.Type, rec.Value)
	}
}

// fqdn normalizes a hostname value to fully-qualified form with a trailing dot.
func fqdn(host string) string {
	if strings.HasSuffix(host, ".") {
		return host
	}
	return host + "."
}

// soaRName converts an admin email address into SOA RNAME form: the first @
// becomes a dot and the result is fully qualified.
func soaRName(email string) string {
	rname := strings.Replace(email, "@", ".", 1)
	return fqdn(rname)
}

// quoteTXT wraps TXT data in quotes unless the value is already quoted.
func quoteTXT(value string) string {
	if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2 {
		return value
	}
	return fmt.Sprintf("%q", value)
}
