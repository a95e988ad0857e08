package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types the engine acts on. Everything else is accepted and
// ignored so Stripe does not keep re-delivering.
const (
	StripeEventSubscriptionCreated = "customer.subscription.created"
	StripeEventSubscriptionUpdated = "customer.subscription.updated"
	StripeEventSubscriptionDeleted = "customer.subscription.deleted"
	StripeEventCheckoutCompleted   = "checkout.session.completed"
)

// VerifyStripeEvent checks the signature header against the shared endpoint
// secret and returns the parsed event. Verification happens before any field
// of the payload is trusted; a failure means the payload is never parsed
// beyond what the signature scheme itself requires.
func VerifyStripeEvent(payload []byte, sigHeader, secret string) (*stripelib.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, fmt.Errorf("missing stripe signature header")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("stripe webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid stripe signature: %w", err)
	}
	return &event, nil
}

// StripeSubscription is a minimal representation of the subscription object
// carried by customer.subscription.* events.
type StripeSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CancelAt          int64  `json:"cancel_at"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// PriceRefs returns all price IDs attached to the subscription items.
func (s *StripeSubscription) PriceRefs() []string {
	refs := make([]string, 0, len(s.Items.Data))
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

// CurrentPeriodEnd returns the latest period end across subscription items.
func (s *StripeSubscription) CurrentPeriodEnd() *time.Time {
	var max int64
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > max {
			max = item.CurrentPeriodEnd
		}
	}
	if max == 0 {
		return nil
	}
	t := time.Unix(max, 0).UTC()
	return &t
}

// CancelTime returns the scheduled cancellation timestamp, if any.
func (s *StripeSubscription) CancelTime() *time.Time {
	if s.CancelAt == 0 {
		return nil
	}
	t := time.Unix(s.CancelAt, 0).UTC()
	return &t
}

// StripeCheckoutSession is a minimal representation of a Stripe
// checkout.session.completed payload, used only for identity linking.
type StripeCheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email returns the best-known customer email from the session.
func (s *StripeCheckoutSession) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// StripeStatusToEntitlementStatus maps Stripe subscription statuses onto the
// entitlement status set. Unknown statuses fail closed.
func StripeStatusToEntitlementStatus(status string, cancelAtPeriodEnd bool) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		if cancelAtPeriodEnd {
			return models.EntitlementStatusCanceling
		}
		return models.EntitlementStatusActive
	case "trialing":
		return models.EntitlementStatusTrialing
	case "canceled":
		return models.EntitlementStatusCanceled
	case "incomplete", "incomplete_expired", "past_due", "unpaid", "paused":
		return models.EntitlementStatusIncomplete
	default:
		return models.EntitlementStatusUnknown
	}
}
