package dnszone

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackhost-io/stackhost/models"
)

func TestNextSerialSameDayIncrements(t *testing.T) {
	today := time.Date(2025, 8, 29, 14, 0, 0, 0, time.UTC)

	first := NextSerial(0, today)
	assert.Equal(t, uint32(2025082901), first)

	second := NextSerial(first, today)
	assert.Equal(t, uint32(2025082902), second)
	assert.Greater(t, second, first)
}

func TestNextSerialNewDayResets(t *testing.T) {
	yesterday := uint32(2025082807)
	serial := NextSerial(yesterday, time.Date(2025, 8, 29, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, uint32(2025082901), serial)
}

func TestNextSerialStaysMonotonic(t *testing.T) {
	// Stored serial is ahead of the clock; the serial must still increase.
	future := uint32(2030010105)
	serial := NextSerial(future, time.Date(2025, 8, 29, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, future+1, serial)
}

func testZone() *models.DNSZone {
	return &models.DNSZone{
		ID:                "zone-1",
		ZoneName:          "customer.example.com",
		Status:            models.ZoneActive,
		PrimaryNS:         "ns1.stackhost.io",
		AdminEmail:        "hostmaster@stackhost.io",
		Nameservers:       []string{"ns1.stackhost.io", "ns2.stackhost.io"},
		LastUpdatedSerial: 2025082901,
		Refresh:           7200,
		Retry:             3600,
		Expire:            1209600,
		Minimum:           3600,
		DefaultTTL:        3600,
	}
}

func TestGenerateZoneFile(t *testing.T) {
	zone := testZone()
	records := []*models.DNSRecord{
		{ZoneID: zone.ID, Name: "app", Type: models.RecordCNAME, Value: "apex.customer.example.com"},
		{ZoneID: zone.ID, Name: "@", Type: models.RecordA, Value: "10.10.0.5"},
	}

	out := GenerateZoneFile(zone, records)

	assert.Equal(t, 1, strings.Count(out, "SOA"), "exactly one SOA block")
	assert.Contains(t, out, "$ORIGIN customer.example.com.\n")
	assert.Contains(t, out, "$TTL 3600\n")
	assert.Contains(t, out, "2025082901\t; serial")
	assert.Contains(t, out, "hostmaster.stackhost.io.")

	assert.Equal(t, 2, strings.Count(out, "IN\tNS\t"), "exactly the configured nameservers")
	assert.Contains(t, out, "@\tIN\tNS\tns1.stackhost.io.\n")
	assert.Contains(t, out, "@\tIN\tNS\tns2.stackhost.io.\n")

	assert.Contains(t, out, "@\tIN\tA\t10.10.0.5\n")
	assert.Contains(t, out, "app\tIN\tCNAME\tapex.customer.example.com.\n",
		"CNAME value gets a trailing dot")

	// A records render before CNAME records regardless of input order.
	assert.Less(t, strings.Index(out, "IN\tA\t"), strings.Index(out, "IN\tCNAME\t"))
}

func TestGenerateZoneFileTypeSpecificFields(t *testing.T) {
	zone := testZone()
	records := []*models.DNSRecord{
		{Name: "@", Type: models.RecordMX, Value: "mail.customer.example.com", Priority: 10},
		{Name: "_sip._tcp", Type: models.RecordSRV, Value: "sip.customer.example.com", Priority: 10, Weight: 60, Port: 5060},
		{Name: "@", Type: models.RecordTXT, Value: "v=spf1 mx -all"},
		{Name: "cache", Type: models.RecordA, Value: "10.10.0.6", TTL: 300},
	}

	out := GenerateZoneFile(zone, records)

	assert.Contains(t, out, "@\tIN\tMX\t10 mail.customer.example.com.\n")
	assert.Contains(t, out, "_sip._tcp\tIN\tSRV\t10 60 5060 sip.customer.example.com.\n")
	assert.Contains(t, out, "@\tIN\tTXT\t\"v=spf1 mx -all\"\n", "TXT values are quoted")
	assert.Contains(t, out, "cache\t300\tIN\tA\t10.10.0.6\n", "per-record TTL override")
}

func TestGenerateZoneFileDeterministic(t *testing.T) {
	zone := testZone()
	records := []*models.DNSRecord{
		{Name: "b", Type: models.RecordA, Value: "10.0.0.2"},
		{Name: "a", Type: models.RecordA, Value: "10.0.0.1"},
	}
	assert.Equal(t, GenerateZoneFile(zone, records), GenerateZoneFile(zone, records))
}

func TestValidateRecord(t *testing.T) {
	existing := []*models.DNSRecord{
		{ID: "r1", Name: "www", Type: models.RecordA, Value: "10.0.0.1"},
	}

	tests := []struct {
		name    string
		rec     *models.DNSRecord
		wantErr error
	}{
		{"valid A", &models.DNSRecord{Name: "app", Type: models.RecordA, Value: "10.0.0.9"}, nil},
		{"A with hostname value", &models.DNSRecord{Name: "app", Type: models.RecordA, Value: "not-an-ip"}, ErrInvalidRecord},
		{"AAAA with v4 value", &models.DNSRecord{Name: "app", Type: models.RecordAAAA, Value: "10.0.0.9"}, ErrInvalidRecord},
		{"valid AAAA", &models.DNSRecord{Name: "app", Type: models.RecordAAAA, Value: "2001:db8::1"}, nil},
		{"unknown type", &models.DNSRecord{Name: "app", Type: "SPF", Value: "x"}, ErrInvalidRecord},
		{"empty value", &models.DNSRecord{Name: "app", Type: models.RecordTXT, Value: ""}, ErrInvalidRecord},
		{"duplicate name and type", &models.DNSRecord{Name: "WWW", Type: models.RecordA, Value: "10.0.0.2"}, ErrDuplicateRecord},
		{"same name different type ok", &models.DNSRecord{Name: "www", Type: models.RecordTXT, Value: "hello"}, nil},
		{"system record may duplicate", &models.DNSRecord{Name: "www", Type: models.RecordA, Value: "10.0.0.3", System: true}, nil},
		{"SRV missing port", &models.DNSRecord{Name: "_sip._tcp", Type: models.RecordSRV, Value: "sip.example.com", Priority: 1, Weight: 1}, ErrInvalidRecord},
		{"valid SRV", &models.DNSRecord{Name: "_sip._tcp", Type: models.RecordSRV, Value: "sip.example.com", Priority: 1, Weight: 1, Port: 5060}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.rec, existing)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultRecords(t *testing.T) {
	recs := DefaultRecords("zone-1", "10.10.0.5")
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.True(t, r.System)
		assert.Equal(t, "zone-1", r.ZoneID)
	}
	assert.Equal(t, models.RecordA, recs[0].Type)
	assert.Equal(t, "@", recs[0].Name)
}
