package billing

import (
	"errors"
	"time"
)

// NormalizedSubscription is the provider-agnostic shape used by the billing
// service when syncing external subscription state into the entitlement
// store. Both webhook handlers and the sweeper reduce provider payloads to
// this shape before writing anything.
type NormalizedSubscription struct {
	UserID                 uint
	Provider               string
	BillingCustomerRef     string
	BillingSubscriptionRef string
	Status                 string
	CurrentPeriodEnd       *time.Time
	CancelAt               *time.Time
	PriceRefs              []string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// Transition describes a resolved-access change for one user. The role
// synchronizer only acts when Previous != Current.
type Transition struct {
	UserID   uint
	RoleRef  string
	Previous bool
	Current  bool
}

// Changed reports whether resolved access actually flipped.
func (t Transition) Changed() bool {
	return t.Previous != t.Current
}

var (
	// ErrNoMatch is returned when a billing identity cannot be matched to any
	// local user. Callers log and move on; it never aborts a batch.
	ErrNoMatch = errors.New("billing: no matching local user")

	// ErrAlreadyLinked is returned when a billing identity is already linked
	// to a different local user. The conflicting write is rejected.
	ErrAlreadyLinked = errors.New("billing: already linked to a different user")
)
