package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/MichaelBrandt/CourseGate/app/models"
)

func TestResolveStripeCustomerStoredMappingWins(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(1, "alice@example.com")
	svc := newTestService(repo)
	linker := NewLinker(repo)

	if _, _, err := svc.ApplySubscription(context.Background(), NormalizedSubscription{
		UserID: 1, Provider: models.BillingProviderStripe,
		BillingCustomerRef: "cus_1", Status: models.EntitlementStatusActive,
	}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// no email given: mapping alone must resolve
	user, err := linker.ResolveStripeCustomer(context.Background(), "cus_1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 1 {
		t.Fatalf("expected user 1, got %d", user.ID)
	}
}

func TestResolveStripeCustomerEmailFallbackPersists(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(2, "bob@example.com")
	linker := NewLinker(repo)

	user, err := linker.ResolveStripeCustomer(context.Background(), "cus_9", "Bob@Example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 2 {
		t.Fatalf("expected user 2, got %d", user.ID)
	}

	// mapping is now stored; the email is no longer needed
	again, err := linker.ResolveStripeCustomer(context.Background(), "cus_9", "")
	if err != nil {
		t.Fatalf("expected stored mapping to resolve: %v", err)
	}
	if again.ID != 2 {
		t.Fatalf("expected user 2 from mapping, got %d", again.ID)
	}
}

func TestResolveStripeCustomerNoMatch(t *testing.T) {
	repo := newFakeRepository()
	linker := NewLinker(repo)

	if _, err := linker.ResolveStripeCustomer(context.Background(), "cus_1", ""); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch without email, got %v", err)
	}
	if _, err := linker.ResolveStripeCustomer(context.Background(), "cus_1", "nobody@example.com"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch for unknown email, got %v", err)
	}
}

func TestResolveStripeCustomerRejectsSecondCustomer(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(3, "carol@example.com")
	linker := NewLinker(repo)

	if _, err := linker.ResolveStripeCustomer(context.Background(), "cus_a", "carol@example.com"); err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	if _, err := linker.ResolveStripeCustomer(context.Background(), "cus_b", "carol@example.com"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked for a second customer ref, got %v", err)
	}
}

func TestClaimPayPalSubscription(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(1, "alice@example.com")
	repo.addUser(2, "bob@example.com")
	svc := newTestService(repo)
	linker := NewLinker(repo)

	if _, err := svc.TrackPayPalSubscription(context.Background(), &PayPalSubscriptionDetail{
		ID: "I-1", Status: "ACTIVE", Email: "alice@example.com",
	}); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	// wrong user: email mismatch
	if _, err := linker.ClaimPayPalSubscription(context.Background(), 2, "I-1"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch on email mismatch, got %v", err)
	}

	sub, err := linker.ClaimPayPalSubscription(context.Background(), 1, "I-1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if sub.LinkedUserID == nil || *sub.LinkedUserID != 1 {
		t.Fatalf("expected link to user 1, got %+v", sub.LinkedUserID)
	}

	// re-claim by the same user is idempotent
	if _, err := linker.ClaimPayPalSubscription(context.Background(), 1, "I-1"); err != nil {
		t.Fatalf("re-claim by owner failed: %v", err)
	}
}

func TestClaimPayPalSubscriptionConflict(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(1, "shared@example.com")
	repo.addUser(2, "shared2@example.com")
	svc := newTestService(repo)
	linker := NewLinker(repo)

	if _, err := svc.TrackPayPalSubscription(context.Background(), &PayPalSubscriptionDetail{
		ID: "I-1", Status: "ACTIVE", Email: "shared@example.com",
	}); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	if _, err := linker.ClaimPayPalSubscription(context.Background(), 1, "I-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// second user with matching email still cannot steal the claim
	repo.mu.Lock()
	repo.users[2].Email = "shared@example.com"
	repo.mu.Unlock()
	if _, err := linker.ClaimPayPalSubscription(context.Background(), 2, "I-1"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}
}

func TestAdminLinkPayPalSubscription(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	linker := NewLinker(repo)

	if _, err := svc.TrackPayPalSubscription(context.Background(), &PayPalSubscriptionDetail{
		ID: "I-1", Status: "ACTIVE",
	}); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	if err := linker.AdminLinkPayPalSubscription(context.Background(), 9, "I-1"); err != nil {
		t.Fatalf("admin link failed: %v", err)
	}
	if err := linker.AdminLinkPayPalSubscription(context.Background(), 9, "I-1"); err != nil {
		t.Fatalf("admin re-link by same user failed: %v", err)
	}
	if err := linker.AdminLinkPayPalSubscription(context.Background(), 10, "I-1"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked for different user, got %v", err)
	}
}

func TestMatchPayPalSubscriberEmail(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(4, "dora@example.com")
	linker := NewLinker(repo)

	user, err := linker.MatchPayPalSubscriberEmail(context.Background(), "DORA@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 4 {
		t.Fatalf("expected user 4, got %d", user.ID)
	}

	if _, err := linker.MatchPayPalSubscriberEmail(context.Background(), ""); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch for empty email, got %v", err)
	}
	if _, err := linker.MatchPayPalSubscriberEmail(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch for unknown email, got %v", err)
	}
}
