package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/rolesync"
	"gorm.io/gorm"
)

// memRepository implements the slice of billing.Repository the sweep path
// touches, with the same conditional-write semantics as the real one.
type memRepository struct {
	subs map[string]*models.PayPalSubscription
	ents map[uint][]*models.Entitlement
}

func newMemRepository() *memRepository {
	return &memRepository{
		subs: make(map[string]*models.PayPalSubscription),
		ents: make(map[uint][]*models.Entitlement),
	}
}

func (m *memRepository) ListEntitlementsByUser(userID uint) ([]models.Entitlement, error) {
	out := make([]models.Entitlement, 0, len(m.ents[userID]))
	for _, e := range m.ents[userID] {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memRepository) GetEntitlementByCustomerRef(provider, customerRef string) (*models.Entitlement, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memRepository) UpsertEntitlement(ent *models.Entitlement) error {
	for _, e := range m.ents[ent.UserID] {
		if e.Provider == ent.Provider {
			role := e.ExternalRoleRef
			*e = *ent
			e.ExternalRoleRef = role
			*ent = *e
			return nil
		}
	}
	cp := *ent
	m.ents[ent.UserID] = append(m.ents[ent.UserID], &cp)
	return nil
}

func (m *memRepository) SetExternalRoleRef(userID uint, roleRef string) error {
	if len(m.ents[userID]) == 0 {
		if roleRef != "" {
			m.ents[userID] = append(m.ents[userID], &models.Entitlement{
				UserID:          userID,
				Provider:        models.BillingProviderNone,
				Status:          models.EntitlementStatusUnknown,
				ExternalRoleRef: roleRef,
			})
		}
		return nil
	}
	for _, e := range m.ents[userID] {
		e.ExternalRoleRef = roleRef
	}
	return nil
}

func (m *memRepository) GetExternalRoleRef(userID uint) (string, error) {
	for _, e := range m.ents[userID] {
		if e.ExternalRoleRef != "" {
			return e.ExternalRoleRef, nil
		}
	}
	return "", nil
}

func (m *memRepository) UpsertPayPalSubscription(sub *models.PayPalSubscription) error {
	if existing, ok := m.subs[sub.ExternalSubscriptionRef]; ok {
		existing.Status = sub.Status
		*sub = *existing
		return nil
	}
	cp := *sub
	m.subs[sub.ExternalSubscriptionRef] = &cp
	return nil
}

func (m *memRepository) GetPayPalSubscriptionByRef(ref string) (*models.PayPalSubscription, error) {
	sub, ok := m.subs[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memRepository) ListPayPalSubscriptions() ([]models.PayPalSubscription, error) {
	out := make([]models.PayPalSubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (m *memRepository) UpdatePayPalSubscriptionStatus(ref, fromStatus, toStatus string, checkedAt time.Time) (bool, error) {
	sub, ok := m.subs[ref]
	if !ok || sub.Status != fromStatus {
		return false, nil
	}
	sub.Status = toStatus
	sub.LastCheckedAt = &checkedAt
	return true, nil
}

func (m *memRepository) TouchPayPalSubscriptionChecked(ref string, checkedAt time.Time) error {
	if sub, ok := m.subs[ref]; ok {
		sub.LastCheckedAt = &checkedAt
	}
	return nil
}

func (m *memRepository) LinkPayPalSubscriptionUser(ref string, userID uint) (bool, error) {
	sub, ok := m.subs[ref]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if sub.LinkedUserID == nil || *sub.LinkedUserID == userID {
		sub.LinkedUserID = &userID
		return true, nil
	}
	return false, nil
}

func (m *memRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	return true, event, nil
}

func (m *memRepository) MarkWebhookProcessed(id uint, processingError string) error {
	return nil
}

func (m *memRepository) GetUserByEmail(email string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memRepository) GetUserByID(id uint) (*models.User, error) {
	return &models.User{ID: id}, nil
}

type fakeProvider struct {
	live map[string]*billing.PayPalSubscriptionDetail
	errs map[string]error
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*billing.PayPalSubscriptionDetail, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	detail, ok := f.live[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return detail, nil
}

type fakeRoleClient struct {
	added   []string
	removed []string
}

func (f *fakeRoleClient) AddMemberRole(ctx context.Context, memberRef string) error {
	f.added = append(f.added, memberRef)
	return nil
}

func (f *fakeRoleClient) RemoveMemberRole(ctx context.Context, memberRef string) error {
	f.removed = append(f.removed, memberRef)
	return nil
}

func (f *fakeRoleClient) PostChannelMessage(ctx context.Context, channelID string, msg rolesync.Message) (string, error) {
	return "msg-1", nil
}

func newSweepService(repo billing.Repository) *billing.Service {
	svc := billing.NewService(repo)
	svc.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	svc.ProgramStart = func() time.Time { return time.Time{} }
	return svc
}

func TestSweepCorrectsDrift(t *testing.T) {
	repo := newMemRepository()
	userID := uint(1)

	// stored state says active, linked to a user with the role granted
	repo.subs["sub_123"] = &models.PayPalSubscription{
		ExternalSubscriptionRef: "sub_123",
		Status:                  models.PayPalStatusActive,
		LinkedUserID:            &userID,
	}
	repo.ents[userID] = []*models.Entitlement{{
		UserID:          userID,
		Provider:        models.BillingProviderPayPal,
		Status:          models.EntitlementStatusActive,
		ExternalRoleRef: "discord-1",
	}}

	// the provider meanwhile says cancelled; the webhook never arrived
	provider := &fakeProvider{live: map[string]*billing.PayPalSubscriptionDetail{
		"sub_123": {ID: "sub_123", Status: models.PayPalStatusCancelled},
	}}
	roles := &fakeRoleClient{}

	sw := New(newSweepService(repo), rolesync.NewSynchronizer(roles, ""), provider, 0)
	summary := sw.Sweep(context.Background())

	if summary.Checked != 1 || summary.Changed != 1 || summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if repo.subs["sub_123"].Status != models.PayPalStatusCancelled {
		t.Fatalf("expected stored raw status to be corrected, got %q", repo.subs["sub_123"].Status)
	}
	if repo.ents[userID][0].Status != models.EntitlementStatusCanceled {
		t.Fatalf("expected entitlement to follow, got %q", repo.ents[userID][0].Status)
	}
	if len(roles.removed) != 1 || roles.removed[0] != "discord-1" {
		t.Fatalf("expected role revoke for discord-1, got %v", roles.removed)
	}
	if len(roles.added) != 0 {
		t.Fatalf("no grants expected, got %v", roles.added)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	repo.subs["sub_1"] = &models.PayPalSubscription{
		ExternalSubscriptionRef: "sub_1",
		Status:                  models.PayPalStatusActive,
	}
	provider := &fakeProvider{live: map[string]*billing.PayPalSubscriptionDetail{
		"sub_1": {ID: "sub_1", Status: models.PayPalStatusActive},
	}}
	roles := &fakeRoleClient{}

	sw := New(newSweepService(repo), rolesync.NewSynchronizer(roles, ""), provider, 0)

	for i := 0; i < 3; i++ {
		summary := sw.Sweep(context.Background())
		if summary.Checked != 1 || summary.Changed != 0 || summary.Errors != 0 {
			t.Fatalf("pass %d: unexpected summary %+v", i, summary)
		}
	}
	if repo.subs["sub_1"].LastCheckedAt == nil {
		t.Fatalf("expected checked timestamp to be touched")
	}
}

func TestSweepIsolatesPerItemErrors(t *testing.T) {
	repo := newMemRepository()
	repo.subs["sub_bad"] = &models.PayPalSubscription{
		ExternalSubscriptionRef: "sub_bad",
		Status:                  models.PayPalStatusActive,
	}
	repo.subs["sub_good"] = &models.PayPalSubscription{
		ExternalSubscriptionRef: "sub_good",
		Status:                  models.PayPalStatusActive,
	}
	provider := &fakeProvider{
		live: map[string]*billing.PayPalSubscriptionDetail{
			"sub_good": {ID: "sub_good", Status: models.PayPalStatusSuspended},
		},
		errs: map[string]error{"sub_bad": errors.New("rate limited")},
	}
	roles := &fakeRoleClient{}

	sw := New(newSweepService(repo), rolesync.NewSynchronizer(roles, ""), provider, 0)
	summary := sw.Sweep(context.Background())

	if summary.Checked != 2 {
		t.Fatalf("expected both items checked, got %+v", summary)
	}
	if summary.Errors != 1 || summary.Changed != 1 {
		t.Fatalf("expected one error and one change, got %+v", summary)
	}
	if repo.subs["sub_good"].Status != models.PayPalStatusSuspended {
		t.Fatalf("good item must still be corrected, got %q", repo.subs["sub_good"].Status)
	}
	if repo.subs["sub_bad"].Status != models.PayPalStatusActive {
		t.Fatalf("failed item must keep its stored status, got %q", repo.subs["sub_bad"].Status)
	}
}

func TestSweepStopsOnCanceledContext(t *testing.T) {
	repo := newMemRepository()
	for _, ref := range []string{"a", "b", "c"} {
		repo.subs[ref] = &models.PayPalSubscription{ExternalSubscriptionRef: ref, Status: models.PayPalStatusActive}
	}
	provider := &fakeProvider{live: map[string]*billing.PayPalSubscriptionDetail{}}
	roles := &fakeRoleClient{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sw := New(newSweepService(repo), rolesync.NewSynchronizer(roles, ""), provider, time.Second)
	summary := sw.Sweep(ctx)
	if summary.Checked != 0 {
		t.Fatalf("expected canceled context to stop the pass, got %+v", summary)
	}
}
