package models

import (
	"strings"
	"time"
)

// Raw PayPal subscription status strings as reported by the provider.
const (
	PayPalStatusActive          = "ACTIVE"
	PayPalStatusApprovalPending = "APPROVAL_PENDING"
	PayPalStatusApproved        = "APPROVED"
	PayPalStatusSuspended       = "SUSPENDED"
	PayPalStatusCancelled       = "CANCELLED"
	PayPalStatusExpired         = "EXPIRED"
)

// PayPalSubscription tracks one external PayPal subscription. PayPal has no
// customer object tying several subscriptions to one person, so each row
// stands alone and is matched to a local user by email or admin action.
// Rows are never deleted, only status-transitioned, to keep the claim and
// cancellation history auditable.
type PayPalSubscription struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	ExternalSubscriptionRef string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_paypal_subscriptions_ref" json:"external_subscription_ref"`
	SubscriberEmail         string     `gorm:"type:varchar(200);default:'';index" json:"subscriber_email"`
	PlanRef                 string     `gorm:"type:varchar(191);default:''" json:"plan_ref"`
	Status                  string     `gorm:"type:varchar(32);not null;default:'APPROVAL_PENDING';index" json:"status"`
	LinkedUserID            *uint      `gorm:"index" json:"linked_user_id,omitempty"`
	NextBillingAt           *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_at,omitempty"`
	LastCheckedAt           *time.Time `gorm:"type:timestamp;default:null" json:"last_checked_at,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PayPalStatusToEntitlementStatus reduces a raw provider status to the
// entitlement status set. Unknown statuses fail closed.
func PayPalStatusToEntitlementStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case PayPalStatusActive:
		return EntitlementStatusActive
	case PayPalStatusApprovalPending, PayPalStatusApproved:
		return EntitlementStatusIncomplete
	case PayPalStatusSuspended:
		return EntitlementStatusCanceling
	case PayPalStatusCancelled, PayPalStatusExpired:
		return EntitlementStatusCanceled
	default:
		return EntitlementStatusUnknown
	}
}
