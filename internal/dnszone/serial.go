// Package dnszone owns DNS zone data: SOA serial numbering, record
// validation and RFC1035-style zone-file rendering. It talks to nothing but
// the relational store; pushing rendered zones to the DNS server lives in
// the dnssync package.
package dnszone

import "time"

// NextSerial returns the next SOA serial in YYYYMMDDNN form. If the current
// serial already carries today's date the trailing sequence is incremented,
// otherwise the serial resets to <today>01. The result is always strictly
// greater than current so downstream resolvers treat the zone as updated.
func NextSerial(current uint32, today time.Time) uint32 {
	prefix := uint32(today.Year())*10000 + uint32(today.Month())*100 + uint32(today.Day())

	next := prefix*100 + 1
	if current/100 == prefix {
		next = current + 1
	}
	// Guard against clocks moving backwards relative to the stored serial.
	if next <= current {
		next = current + 1
	}
	return next
}
