package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Linker resolves external billing identities to internal user ids. It
// trusts a previously stored mapping first and falls back to matching by
// verified email, persisting the mapping so future events skip the lookup.
type Linker struct {
	repo Repository
}

// NewLinker creates a linker over the shared billing repository.
func NewLinker(repo Repository) *Linker {
	return &Linker{repo: repo}
}

// ResolveStripeCustomer returns the user linked to a Stripe customer ref,
// either from the stored mapping or by email match. A successful email match
// is persisted as a pending entitlement row so the next event hits the
// mapping path. Returns ErrNoMatch when nobody matches; the caller logs and
// moves on.
func (l *Linker) ResolveStripeCustomer(ctx context.Context, customerRef, email string) (*models.User, error) {
	_ = ctx
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, errors.New("customer ref is required")
	}

	ent, err := l.repo.GetEntitlementByCustomerRef(models.BillingProviderStripe, customerRef)
	if err == nil {
		return l.repo.GetUserByID(ent.UserID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNoMatch
	}
	user, err := l.repo.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Linker] no local user for stripe customer %s (email %s)", customerRef, email)
			return nil, ErrNoMatch
		}
		return nil, err
	}

	// Reject if the user already carries a different Stripe customer.
	existing, err := l.repo.ListEntitlementsByUser(user.ID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		e := &existing[i]
		if e.Provider == models.BillingProviderStripe &&
			e.BillingCustomerRef != "" && e.BillingCustomerRef != customerRef {
			log.Warnf("[Linker] stripe customer %s conflicts with existing link for user %d", customerRef, user.ID)
			return nil, ErrAlreadyLinked
		}
	}

	ent = &models.Entitlement{
		UserID:             user.ID,
		Provider:           models.BillingProviderStripe,
		BillingCustomerRef: customerRef,
		Status:             models.EntitlementStatusUnknown,
	}
	if err := l.repo.UpsertEntitlement(ent); err != nil {
		return nil, err
	}
	return user, nil
}

// ClaimPayPalSubscription links a tracked subscription to a user. The
// subscriber email must match the user's email, and a subscription already
// claimed by someone else is rejected without mutation.
func (l *Linker) ClaimPayPalSubscription(ctx context.Context, userID uint, ref string) (*models.PayPalSubscription, error) {
	_ = ctx
	ref = strings.TrimSpace(ref)
	if userID == 0 || ref == "" {
		return nil, errors.New("user_id and subscription ref are required")
	}

	sub, err := l.repo.GetPayPalSubscriptionByRef(ref)
	if err != nil {
		return nil, err
	}
	user, err := l.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(strings.TrimSpace(sub.SubscriberEmail), strings.TrimSpace(user.Email)) {
		log.Infof("[Linker] paypal subscription %s email does not match user %d", ref, userID)
		return nil, ErrNoMatch
	}

	linked, err := l.repo.LinkPayPalSubscriptionUser(ref, userID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, ErrAlreadyLinked
	}
	return l.repo.GetPayPalSubscriptionByRef(ref)
}

// AdminLinkPayPalSubscription links a subscription to an explicit user id
// during bulk import, skipping the email check but still refusing to steal a
// claim from a different user.
func (l *Linker) AdminLinkPayPalSubscription(ctx context.Context, userID uint, ref string) error {
	_ = ctx
	linked, err := l.repo.LinkPayPalSubscriptionUser(strings.TrimSpace(ref), userID)
	if err != nil {
		return err
	}
	if !linked {
		return ErrAlreadyLinked
	}
	return nil
}

// MatchPayPalSubscriberEmail finds the local user for a subscriber email.
// Returns ErrNoMatch when nobody matches.
func (l *Linker) MatchPayPalSubscriberEmail(ctx context.Context, email string) (*models.User, error) {
	_ = ctx
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNoMatch
	}
	user, err := l.repo.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoMatch
		}
		return nil, err
	}
	return user, nil
}
