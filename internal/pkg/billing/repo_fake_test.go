package billing

import (
	"strings"
	"sync"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"gorm.io/gorm"
)

// fakeRepository is an in-memory Repository with the same write semantics as
// the GORM-backed one: keyed upserts and conditional updates.
type fakeRepository struct {
	mu sync.Mutex

	nextID       uint
	entitlements map[uint][]*models.Entitlement
	paypalSubs   map[string]*models.PayPalSubscription
	webhooks     map[string]*models.WebhookEvent
	users        map[uint]*models.User
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		nextID:       1,
		entitlements: make(map[uint][]*models.Entitlement),
		paypalSubs:   make(map[string]*models.PayPalSubscription),
		webhooks:     make(map[string]*models.WebhookEvent),
		users:        make(map[uint]*models.User),
	}
}

func (f *fakeRepository) addUser(id uint, email string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: id, Name: "user", Email: strings.ToLower(email), Status: models.STATUS_ACTIVE}
	f.users[id] = u
	return u
}

func (f *fakeRepository) ListEntitlementsByUser(userID uint) ([]models.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Entitlement, 0, len(f.entitlements[userID]))
	for _, e := range f.entitlements[userID] {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeRepository) GetEntitlementByCustomerRef(provider, customerRef string) (*models.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if customerRef == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, rows := range f.entitlements {
		for _, e := range rows {
			if e.Provider == provider && e.BillingCustomerRef == customerRef {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) UpsertEntitlement(ent *models.Entitlement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entitlements[ent.UserID] {
		if e.Provider == ent.Provider {
			e.BillingCustomerRef = ent.BillingCustomerRef
			e.BillingSubscriptionRef = ent.BillingSubscriptionRef
			e.Status = ent.Status
			e.CurrentPeriodEnd = ent.CurrentPeriodEnd
			e.CancelAt = ent.CancelAt
			e.PriceRefsJSON = ent.PriceRefsJSON
			// external_role_ref is not part of the update set
			*ent = *e
			return nil
		}
	}
	ent.ID = f.nextID
	f.nextID++
	cp := *ent
	f.entitlements[ent.UserID] = append(f.entitlements[ent.UserID], &cp)
	return nil
}

func (f *fakeRepository) SetExternalRoleRef(userID uint, roleRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entitlements[userID]) == 0 {
		if roleRef == "" {
			return nil
		}
		f.entitlements[userID] = append(f.entitlements[userID], &models.Entitlement{
			ID:              f.nextID,
			UserID:          userID,
			Provider:        models.BillingProviderNone,
			Status:          models.EntitlementStatusUnknown,
			ExternalRoleRef: roleRef,
		})
		f.nextID++
		return nil
	}
	for _, e := range f.entitlements[userID] {
		e.ExternalRoleRef = roleRef
	}
	return nil
}

func (f *fakeRepository) GetExternalRoleRef(userID uint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entitlements[userID] {
		if ref := strings.TrimSpace(e.ExternalRoleRef); ref != "" {
			return ref, nil
		}
	}
	return "", nil
}

func (f *fakeRepository) UpsertPayPalSubscription(sub *models.PayPalSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.paypalSubs[sub.ExternalSubscriptionRef]; ok {
		existing.SubscriberEmail = sub.SubscriberEmail
		existing.PlanRef = sub.PlanRef
		existing.Status = sub.Status
		existing.NextBillingAt = sub.NextBillingAt
		existing.LastCheckedAt = sub.LastCheckedAt
		// linked_user_id is not part of the update set
		*sub = *existing
		return nil
	}
	sub.ID = f.nextID
	f.nextID++
	cp := *sub
	f.paypalSubs[sub.ExternalSubscriptionRef] = &cp
	return nil
}

func (f *fakeRepository) GetPayPalSubscriptionByRef(ref string) (*models.PayPalSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.paypalSubs[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeRepository) ListPayPalSubscriptions() ([]models.PayPalSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PayPalSubscription, 0, len(f.paypalSubs))
	for _, sub := range f.paypalSubs {
		out = append(out, *sub)
	}
	return out, nil
}

func (f *fakeRepository) UpdatePayPalSubscriptionStatus(ref, fromStatus, toStatus string, checkedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.paypalSubs[ref]
	if !ok || sub.Status != fromStatus {
		return false, nil
	}
	sub.Status = toStatus
	sub.LastCheckedAt = &checkedAt
	return true, nil
}

func (f *fakeRepository) TouchPayPalSubscriptionChecked(ref string, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.paypalSubs[ref]; ok {
		sub.LastCheckedAt = &checkedAt
	}
	return nil
}

func (f *fakeRepository) LinkPayPalSubscriptionUser(ref string, userID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.paypalSubs[ref]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if sub.LinkedUserID == nil || *sub.LinkedUserID == userID {
		sub.LinkedUserID = &userID
		return true, nil
	}
	return false, nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if existing, ok := f.webhooks[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.ID = f.nextID
	f.nextID++
	cp := *event
	f.webhooks[key] = &cp
	stored := cp
	return true, &stored, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, ev := range f.webhooks {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetUserByEmail(email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetUserByID(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}
