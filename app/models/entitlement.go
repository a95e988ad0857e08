package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Billing provider constants used across entitlement-related models.
const (
	BillingProviderStripe = "stripe"
	BillingProviderPayPal = "paypal"

	// BillingProviderNone marks a placeholder row that only carries the
	// community account link until a billing provider writes a real record.
	BillingProviderNone = "none"
)

const (
	EntitlementStatusActive     = "active"
	EntitlementStatusTrialing   = "trialing"
	EntitlementStatusCanceling  = "canceling"
	EntitlementStatusCanceled   = "canceled"
	EntitlementStatusIncomplete = "incomplete"
	EntitlementStatusUnknown    = "unknown"
)

// Entitlement is the canonical per-user billing state, independent of any
// single provider. It is mutated only by the reconciliation engine (webhook
// handlers and the sweeper), never directly by UI code.
type Entitlement struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index:ux_entitlements_user_provider,unique,priority:1" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_entitlements_user_provider,unique,priority:2" json:"provider"`
	BillingCustomerRef     string     `gorm:"type:varchar(191);default:'';index" json:"billing_customer_ref"`
	BillingSubscriptionRef string     `gorm:"type:varchar(191);default:'';index" json:"billing_subscription_ref"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'unknown';index" json:"status"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAt               *time.Time `gorm:"type:timestamp;default:null" json:"cancel_at,omitempty"`
	PriceRefsJSON          string     `gorm:"type:text" json:"-"`
	ExternalRoleRef        string     `gorm:"type:varchar(64);default:'';index" json:"external_role_ref"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceRefs decodes the stored price/plan reference set.
func (e *Entitlement) PriceRefs() []string {
	if strings.TrimSpace(e.PriceRefsJSON) == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(e.PriceRefsJSON), &refs); err != nil {
		return nil
	}
	return refs
}

// SetPriceRefs stores the price/plan reference set, dropping empties and
// duplicates so replayed events encode identically.
func (e *Entitlement) SetPriceRefs(refs []string) {
	seen := make(map[string]struct{}, len(refs))
	clean := make([]string, 0, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		clean = append(clean, r)
	}
	if len(clean) == 0 {
		e.PriceRefsJSON = ""
		return
	}
	b, err := json.Marshal(clean)
	if err != nil {
		e.PriceRefsJSON = ""
		return
	}
	e.PriceRefsJSON = string(b)
}

// NormalizeEntitlementStatus maps arbitrary status strings to the closed set
// stored on the entitlement row. Unknown inputs fail closed to "unknown".
func NormalizeEntitlementStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case EntitlementStatusActive:
		return EntitlementStatusActive
	case EntitlementStatusTrialing:
		return EntitlementStatusTrialing
	case EntitlementStatusCanceling:
		return EntitlementStatusCanceling
	case EntitlementStatusCanceled:
		return EntitlementStatusCanceled
	case EntitlementStatusIncomplete:
		return EntitlementStatusIncomplete
	default:
		return EntitlementStatusUnknown
	}
}
