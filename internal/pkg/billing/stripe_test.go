package billing

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestStripeStatusToEntitlementStatus(t *testing.T) {
	tests := []struct {
		status            string
		cancelAtPeriodEnd bool
		want              string
	}{
		{status: "active", want: models.EntitlementStatusActive},
		{status: "active", cancelAtPeriodEnd: true, want: models.EntitlementStatusCanceling},
		{status: "trialing", want: models.EntitlementStatusTrialing},
		{status: "canceled", want: models.EntitlementStatusCanceled},
		{status: "incomplete", want: models.EntitlementStatusIncomplete},
		{status: "incomplete_expired", want: models.EntitlementStatusIncomplete},
		{status: "past_due", want: models.EntitlementStatusIncomplete},
		{status: "unpaid", want: models.EntitlementStatusIncomplete},
		{status: "paused", want: models.EntitlementStatusIncomplete},
		{status: "ACTIVE", want: models.EntitlementStatusActive},
		{status: "something_new", want: models.EntitlementStatusUnknown},
		{status: "", want: models.EntitlementStatusUnknown},
	}

	for _, tt := range tests {
		if got := StripeStatusToEntitlementStatus(tt.status, tt.cancelAtPeriodEnd); got != tt.want {
			t.Fatalf("StripeStatusToEntitlementStatus(%q, %v) = %q, want %q",
				tt.status, tt.cancelAtPeriodEnd, got, tt.want)
		}
	}
}

func TestVerifyStripeEvent(t *testing.T) {
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)

	now := time.Now()
	signed := hex.EncodeToString(webhook.ComputeSignature(now, payload, secret))
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), signed)

	event, err := VerifyStripeEvent(payload, header, secret)
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("unexpected event id %q", event.ID)
	}

	if _, err := VerifyStripeEvent(payload, header, "whsec_other"); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
	if _, err := VerifyStripeEvent(payload, "", secret); err == nil {
		t.Fatalf("expected missing header to fail")
	}
	if _, err := VerifyStripeEvent(payload, header, ""); err == nil {
		t.Fatalf("expected unconfigured secret to fail")
	}
}

func TestStripeSubscriptionDecodeHelpers(t *testing.T) {
	raw := []byte(`{
		"id": "sub_123",
		"customer": "cus_42",
		"status": "active",
		"cancel_at_period_end": false,
		"cancel_at": 1750000000,
		"items": {
			"data": [
				{ "current_period_end": 1760000000, "price": { "id": "price_a" } },
				{ "current_period_end": 1750000000, "price": { "id": "price_b" } },
				{ "current_period_end": 0, "price": { "id": "" } }
			]
		}
	}`)

	var sub StripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if sub.ID != "sub_123" || sub.Customer != "cus_42" {
		t.Fatalf("unexpected ids: %q %q", sub.ID, sub.Customer)
	}

	refs := sub.PriceRefs()
	if len(refs) != 2 || refs[0] != "price_a" || refs[1] != "price_b" {
		t.Fatalf("unexpected price refs: %v", refs)
	}

	end := sub.CurrentPeriodEnd()
	if end == nil || end.Unix() != 1760000000 {
		t.Fatalf("expected latest item period end, got %v", end)
	}

	cancel := sub.CancelTime()
	if cancel == nil || cancel.Unix() != 1750000000 {
		t.Fatalf("unexpected cancel time: %v", cancel)
	}
}

func TestStripeSubscriptionEmptyHelpers(t *testing.T) {
	var sub StripeSubscription
	if sub.CurrentPeriodEnd() != nil {
		t.Fatalf("expected nil period end for empty subscription")
	}
	if sub.CancelTime() != nil {
		t.Fatalf("expected nil cancel time for empty subscription")
	}
	if len(sub.PriceRefs()) != 0 {
		t.Fatalf("expected no price refs for empty subscription")
	}
}

func TestStripeCheckoutSessionEmail(t *testing.T) {
	var sess StripeCheckoutSession
	sess.CustomerEmail = "fallback@example.com"
	if got := sess.Email(); got != "fallback@example.com" {
		t.Fatalf("expected fallback email, got %q", got)
	}
	sess.CustomerDetails.Email = "primary@example.com"
	if got := sess.Email(); got != "primary@example.com" {
		t.Fatalf("expected customer_details email to win, got %q", got)
	}
}
