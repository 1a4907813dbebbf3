package models

import "time"

// ZoneStatus marks whether a zone is served or tombstoned.
type ZoneStatus string

const (
	ZoneActive    ZoneStatus = "ACTIVE"
	ZoneSuspended ZoneStatus = "SUSPENDED"
	ZoneDeleted   ZoneStatus = "DELETED"
)

// RecordType is a DNS resource record type supported by the zone manager.
type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordMX    RecordType = "MX"
	RecordTXT   RecordType = "TXT"
	RecordNS    RecordType = "NS"
	RecordSRV   RecordType = "SRV"
	RecordPTR   RecordType = "PTR"
)

// RecordTypeOrder is the stable rendering order for zone files. Keeping the
// order fixed keeps generated files diff-friendly.
var RecordTypeOrder = []RecordType{
	RecordA, RecordAAAA, RecordCNAME, RecordMX, RecordTXT, RecordNS, RecordSRV, RecordPTR,
}

// Valid reports whether the record type is supported.
func (t RecordType) Valid() bool {
	for _, known := range RecordTypeOrder {
		if t == known {
			return true
		}
	}
	return false
}

// DNSZone owns the SOA fields and records of one zone. A zone may be bound
// to a subscription (auto-managed) or stand alone.
type DNSZone struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	ZoneName          string     `gorm:"size:255;not null;uniqueIndex" json:"zone_name"`
	SubscriptionID    *string    `gorm:"size:36;index" json:"subscription_id,omitempty"`
	Status            ZoneStatus `gorm:"size:20;not null;index" json:"status"`
	PrimaryNS         string     `gorm:"size:255;not null" json:"primary_ns"`
	AdminEmail        string     `gorm:"size:255;not null" json:"admin_email"`
	Nameservers       []string   `gorm:"serializer:json" json:"nameservers"`
	LastUpdatedSerial uint32     `json:"last_updated_serial"`
	Refresh           int        `gorm:"default:7200" json:"refresh"`
	Retry             int        `gorm:"default:3600" json:"retry"`
	Expire            int        `gorm:"default:1209600" json:"expire"`
	Minimum           int        `gorm:"default:3600" json:"minimum"`
	DefaultTTL        int        `gorm:"default:3600" json:"default_ttl"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DNSRecord belongs to exactly one zone. For non-system records the
// (zone, name, type) triple must be unique.
type DNSRecord struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	ZoneID    string     `gorm:"size:36;not null;index:idx_zone_name_type" json:"zone_id"`
	Name      string     `gorm:"size:255;not null;index:idx_zone_name_type" json:"name"`
	Type      RecordType `gorm:"size:10;not null;index:idx_zone_name_type" json:"type"`
	Value     string     `gorm:"size:4000;not null" json:"value"`
	TTL       int        `json:"ttl"`
	Priority  int        `json:"priority,omitempty"`
	Weight    int        `json:"weight,omitempty"`
	Port      int        `json:"port,omitempty"`
	System    bool       `json:"system"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SyncState is the outcome state of one push to the DNS server.
type SyncState string

const (
	SyncPending SyncState = "PENDING"
	SyncSuccess SyncState = "SUCCESS"
	SyncFailed  SyncState = "FAILED"
)

// DNSSyncLog is an append-only audit row for every zone push attempt.
type DNSSyncLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ZoneID     string    `gorm:"size:36;not null;index" json:"zone_id"`
	ZoneName   string    `gorm:"size:255;not null" json:"zone_name"`
	Serial     uint32    `json:"serial"`
	State      SyncState `gorm:"size:10;not null" json:"state"`
	Error      string    `gorm:"size:2000" json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
