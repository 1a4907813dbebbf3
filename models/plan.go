// Package models defines the persistent data model for StackHost.
// Entities are stored through GORM; lifecycle states are typed enums with
// explicit transition tables so invalid transitions are rejected at the
// call site instead of being inferred from scattered flags.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is the length of a subscription billing period.
type BillingCycle string

const (
	BillingMonthly   BillingCycle = "MONTHLY"
	BillingQuarterly BillingCycle = "QUARTERLY"
	BillingAnnually  BillingCycle = "ANNUALLY"
)

// Months returns the number of months a cycle spans.
func (c BillingCycle) Months() int {
	switch c {
	case BillingQuarterly:
		return 3
	case BillingAnnually:
		return 12
	default:
		return 1
	}
}

// Valid reports whether the cycle is a known value.
func (c BillingCycle) Valid() bool {
	switch c {
	case BillingMonthly, BillingQuarterly, BillingAnnually:
		return true
	}
	return false
}

// Plan is a pricing and resource template for subscriptions. Plans are never
// deleted once referenced; they are deactivated instead.
type Plan struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	Name         string          `gorm:"size:100;not null;uniqueIndex" json:"name"`
	CPUCores     float64         `gorm:"not null" json:"cpu_cores"`
	MemoryMB     int64           `gorm:"not null" json:"memory_mb"`
	StorageGB    int64           `gorm:"not null" json:"storage_gb"`
	BandwidthGB  int64           `json:"bandwidth_gb"`
	MonthlyPrice decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"monthly_price"`
	SetupFee     decimal.Decimal `gorm:"type:numeric(10,2)" json:"setup_fee"`
	BaseImage    string          `gorm:"size:255;not null" json:"base_image"`
	Active       bool            `gorm:"default:true" json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
