package billing

import (
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Every write
// is an upsert keyed by a unique external id or a conditional update, so the
// webhook path and the sweeper can race on the same rows safely.
type Repository interface {
	ListEntitlementsByUser(userID uint) ([]models.Entitlement, error)
	GetEntitlementByCustomerRef(provider, customerRef string) (*models.Entitlement, error)
	UpsertEntitlement(ent *models.Entitlement) error
	SetExternalRoleRef(userID uint, roleRef string) error
	GetExternalRoleRef(userID uint) (string, error)

	UpsertPayPalSubscription(sub *models.PayPalSubscription) error
	GetPayPalSubscriptionByRef(ref string) (*models.PayPalSubscription, error)
	ListPayPalSubscriptions() ([]models.PayPalSubscription, error)
	UpdatePayPalSubscriptionStatus(ref, fromStatus, toStatus string, checkedAt time.Time) (bool, error)
	TouchPayPalSubscriptionChecked(ref string, checkedAt time.Time) error
	LinkPayPalSubscriptionUser(ref string, userID uint) (bool, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id uint) (*models.User, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListEntitlementsByUser(userID uint) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.Where("user_id = ?", userID).Find(&ents).Error
	return ents, err
}

func (r *gormRepository) GetEntitlementByCustomerRef(provider, customerRef string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := r.db.Where("provider = ? AND billing_customer_ref = ?", provider, customerRef).First(&ent).Error
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormRepository) UpsertEntitlement(ent *models.Entitlement) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"billing_customer_ref",
			"billing_subscription_ref",
			"status",
			"current_period_end",
			"cancel_at",
			"price_refs_json",
			"updated_at",
		}),
	}).Create(ent).Error; err != nil {
		return err
	}

	// Ensure ID and role ref are populated after upsert.
	return r.db.Where("user_id = ? AND provider = ?", ent.UserID, ent.Provider).
		First(ent).Error
}

func (r *gormRepository) SetExternalRoleRef(userID uint, roleRef string) error {
	var count int64
	if err := r.db.Model(&models.Entitlement{}).
		Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return r.db.Model(&models.Entitlement{}).
			Where("user_id = ?", userID).
			Update("external_role_ref", roleRef).Error
	}
	if roleRef == "" {
		return nil
	}
	// The user linked before ever subscribing. Keep the ref on a
	// placeholder row so it is still there when the first provider
	// write creates a real one.
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"external_role_ref", "updated_at"}),
	}).Create(&models.Entitlement{
		UserID:          userID,
		Provider:        models.BillingProviderNone,
		Status:          models.EntitlementStatusUnknown,
		ExternalRoleRef: roleRef,
	}).Error
}

func (r *gormRepository) GetExternalRoleRef(userID uint) (string, error) {
	ents, err := r.ListEntitlementsByUser(userID)
	if err != nil {
		return "", err
	}
	for i := range ents {
		if ref := strings.TrimSpace(ents[i].ExternalRoleRef); ref != "" {
			return ref, nil
		}
	}
	return "", nil
}

func (r *gormRepository) UpsertPayPalSubscription(sub *models.PayPalSubscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_subscription_ref"},
		},
		// linked_user_id is deliberately absent: linking is a separate
		// conditional write so a replayed upsert can never steal a claim.
		DoUpdates: clause.AssignmentColumns([]string{
			"subscriber_email",
			"plan_ref",
			"status",
			"next_billing_at",
			"last_checked_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	return r.db.Where("external_subscription_ref = ?", sub.ExternalSubscriptionRef).
		First(sub).Error
}

func (r *gormRepository) GetPayPalSubscriptionByRef(ref string) (*models.PayPalSubscription, error) {
	var sub models.PayPalSubscription
	err := r.db.Where("external_subscription_ref = ?", ref).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListPayPalSubscriptions() ([]models.PayPalSubscription, error) {
	var subs []models.PayPalSubscription
	err := r.db.Order("id ASC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpdatePayPalSubscriptionStatus(ref, fromStatus, toStatus string, checkedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.PayPalSubscription{}).
		Where("external_subscription_ref = ? AND status = ?", ref, fromStatus).
		Updates(map[string]interface{}{
			"status":          toStatus,
			"last_checked_at": checkedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) TouchPayPalSubscriptionChecked(ref string, checkedAt time.Time) error {
	return r.db.Model(&models.PayPalSubscription{}).
		Where("external_subscription_ref = ?", ref).
		Update("last_checked_at", checkedAt).Error
}

func (r *gormRepository) LinkPayPalSubscriptionUser(ref string, userID uint) (bool, error) {
	tx := r.db.Model(&models.PayPalSubscription{}).
		Where("external_subscription_ref = ? AND (linked_user_id IS NULL OR linked_user_id = ?)", ref, userID).
		Update("linked_user_id", userID)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}
	// Distinguish "already linked to this user" from a conflicting claim.
	var sub models.PayPalSubscription
	if err := r.db.Where("external_subscription_ref = ?", ref).First(&sub).Error; err != nil {
		return false, err
	}
	if sub.LinkedUserID != nil && *sub.LinkedUserID == userID {
		return true, nil
	}
	return false, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
