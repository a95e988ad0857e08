package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	"gorm.io/gorm"
)

// Service provides provider-neutral entitlement synchronization and
// reconciliation. All mutations go through the repository's idempotent
// writes; replays of the same provider state leave the store unchanged.
type Service struct {
	repo Repository

	// Now and ProgramStart are injectable for deterministic tests.
	Now          func() time.Time
	ProgramStart func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo:         repo,
		Now:          time.Now,
		ProgramStart: env.ProgramStartAt,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// ResolveUser computes the current access decision for a user from all of
// their entitlement records.
func (s *Service) ResolveUser(ctx context.Context, userID uint) (Resolution, error) {
	_ = ctx
	if userID == 0 {
		return Resolution{DisplayStatus: DisplayStatusNone}, errors.New("user_id is required")
	}
	ents, err := s.repo.ListEntitlementsByUser(userID)
	if err != nil {
		return Resolution{DisplayStatus: DisplayStatusNone}, err
	}
	return Resolve(ents, s.Now(), s.ProgramStart()), nil
}

// ApplySubscription upserts normalized provider subscription state into the
// entitlement store and reports the resulting access transition. Replaying
// identical input produces an identical row and a no-op transition.
func (s *Service) ApplySubscription(ctx context.Context, in NormalizedSubscription) (*models.Entitlement, Transition, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if in.UserID == 0 || provider == "" {
		return nil, Transition{}, errors.New("user_id and provider are required")
	}

	now := s.Now()
	gate := s.ProgramStart()

	before, err := s.repo.ListEntitlementsByUser(in.UserID)
	if err != nil {
		return nil, Transition{}, err
	}
	prev := Resolve(before, now, gate)

	ent := &models.Entitlement{
		UserID:                 in.UserID,
		Provider:               provider,
		BillingCustomerRef:     strings.TrimSpace(in.BillingCustomerRef),
		BillingSubscriptionRef: strings.TrimSpace(in.BillingSubscriptionRef),
		Status:                 models.NormalizeEntitlementStatus(in.Status),
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAt:               in.CancelAt,
	}
	ent.SetPriceRefs(in.PriceRefs)
	if err := s.repo.UpsertEntitlement(ent); err != nil {
		return nil, Transition{}, err
	}

	after, err := s.repo.ListEntitlementsByUser(in.UserID)
	if err != nil {
		return ent, Transition{}, err
	}
	curr := Resolve(after, now, gate)

	roleRef := ""
	for i := range after {
		if r := strings.TrimSpace(after[i].ExternalRoleRef); r != "" {
			roleRef = r
			break
		}
	}

	return ent, Transition{
		UserID:   in.UserID,
		RoleRef:  roleRef,
		Previous: prev.HasAccess,
		Current:  curr.HasAccess,
	}, nil
}

// ApplyPayPalStatus writes a (possibly new) raw provider status for a tracked
// PayPal subscription and mirrors it into the linked user's entitlement
// record. It returns whether anything changed and the resulting transition.
// Processing an unchanged status is a no-op apart from the checked timestamp.
func (s *Service) ApplyPayPalStatus(ctx context.Context, ref, newStatus string) (bool, Transition, error) {
	ref = strings.TrimSpace(ref)
	newStatus = strings.ToUpper(strings.TrimSpace(newStatus))
	if ref == "" || newStatus == "" {
		return false, Transition{}, errors.New("subscription ref and status are required")
	}

	sub, err := s.repo.GetPayPalSubscriptionByRef(ref)
	if err != nil {
		return false, Transition{}, err
	}

	now := s.Now()
	if sub.Status == newStatus {
		if err := s.repo.TouchPayPalSubscriptionChecked(ref, now); err != nil {
			return false, Transition{}, err
		}
		if sub.LinkedUserID == nil {
			return false, Transition{}, nil
		}
		// A freshly claimed or imported subscription already carries the
		// right raw status, but the linked user has no entitlement row yet.
		// Mirror once so the claim actually grants access.
		ents, err := s.repo.ListEntitlementsByUser(*sub.LinkedUserID)
		if err != nil {
			return false, Transition{}, err
		}
		for i := range ents {
			if ents[i].Provider == models.BillingProviderPayPal {
				return false, Transition{}, nil
			}
		}
		transition, err := s.mirrorPayPalEntitlement(ctx, sub, newStatus)
		if err != nil {
			return true, Transition{}, err
		}
		return true, transition, nil
	}

	changed, err := s.repo.UpdatePayPalSubscriptionStatus(ref, sub.Status, newStatus, now)
	if err != nil {
		return false, Transition{}, err
	}
	if !changed {
		// A concurrent writer got there first; its path owns the transition.
		return false, Transition{}, nil
	}

	if sub.LinkedUserID == nil {
		return true, Transition{}, nil
	}

	transition, err := s.mirrorPayPalEntitlement(ctx, sub, newStatus)
	if err != nil {
		return true, Transition{}, err
	}
	return true, transition, nil
}

func (s *Service) mirrorPayPalEntitlement(ctx context.Context, sub *models.PayPalSubscription, rawStatus string) (Transition, error) {
	_, transition, err := s.ApplySubscription(ctx, NormalizedSubscription{
		UserID:                 *sub.LinkedUserID,
		Provider:               models.BillingProviderPayPal,
		BillingSubscriptionRef: sub.ExternalSubscriptionRef,
		Status:                 models.PayPalStatusToEntitlementStatus(rawStatus),
		CurrentPeriodEnd:       sub.NextBillingAt,
		PriceRefs:              []string{sub.PlanRef},
	})
	return transition, err
}

// TrackPayPalSubscription upserts the tracked subscriber record from a live
// provider lookup. Linking to a user is a separate conditional step.
func (s *Service) TrackPayPalSubscription(ctx context.Context, detail *PayPalSubscriptionDetail) (*models.PayPalSubscription, error) {
	_ = ctx
	if detail == nil || strings.TrimSpace(detail.ID) == "" {
		return nil, errors.New("subscription detail is required")
	}
	now := s.Now()
	sub := &models.PayPalSubscription{
		ExternalSubscriptionRef: strings.TrimSpace(detail.ID),
		SubscriberEmail:         strings.ToLower(strings.TrimSpace(detail.Email)),
		PlanRef:                 strings.TrimSpace(detail.PlanRef),
		Status:                  strings.ToUpper(strings.TrimSpace(detail.Status)),
		NextBillingAt:           detail.NextBillingAt,
		LastCheckedAt:           &now,
	}
	if err := s.repo.UpsertPayPalSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// LinkDiscordAccount stores the community account id on all of the user's
// entitlement records so the role synchronizer can find it. An empty roleRef
// unlinks.
func (s *Service) LinkDiscordAccount(ctx context.Context, userID uint, roleRef string) error {
	_ = ctx
	if userID == 0 {
		return errors.New("user_id is required")
	}
	return s.repo.SetExternalRoleRef(userID, strings.TrimSpace(roleRef))
}

// RoleRefForUser returns the linked community account id, or "" if the user
// never linked one.
func (s *Service) RoleRefForUser(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	return s.repo.GetExternalRoleRef(userID)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// Repo exposes the underlying repository to adjacent engine packages that
// share it (sweeper, linker).
func (s *Service) Repo() Repository {
	return s.repo
}
