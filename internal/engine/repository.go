package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists leads, listings and price alert subscriptions.
type Repository interface {
	CreateLead(ctx context.Context, lead *leads.Lead) error
	FindLead(ctx context.Context, id string) (leads.Lead, error)
	UpdateLead(ctx context.Context, id string, mutate func(*leads.Lead) error) (leads.Lead, error)
	ListMatchableLeads(ctx context.Context) ([]leads.Lead, error)
	MarkLeadsContacted(ctx context.Context, ids []string) error

	CreateProperty(ctx context.Context, property *listings.Property) error
	FindProperty(ctx context.Context, id string) (listings.Property, error)
	UpdateProperty(ctx context.Context, id string, mutate func(*listings.Property) error) (listings.Property, error)
	ListAvailableProperties(ctx context.Context) ([]listings.Property, error)

	SaveSubscription(ctx context.Context, subscription leads.PriceAlertSubscription) (leads.PriceAlertSubscription, error)
	DeactivateSubscription(ctx context.Context, propertyID, subscriberKey string) (bool, error)
	ListActiveSubscriptions(ctx context.Context, propertyID string) ([]leads.PriceAlertSubscription, error)
}

// GormRepository implements Repository on GORM.
type GormRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormRepository wraps the database handle.
func NewGormRepository(db *gorm.DB, clock func() time.Time) *GormRepository {
	if clock == nil {
		clock = time.Now
	}
	return &GormRepository{db: db, clock: clock}
}

func (r *GormRepository) CreateLead(ctx context.Context, lead *leads.Lead) error {
	return r.db.WithContext(ctx).Create(lead).Error
}

func (r *GormRepository) FindLead(ctx context.Context, id string) (leads.Lead, error) {
	var lead leads.Lead
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&lead).Error
	return lead, translateNotFound(err)
}

// UpdateLead loads the lead under a row lock, applies mutate and saves it in one transaction.
func (r *GormRepository) UpdateLead(ctx context.Context, id string, mutate func(*leads.Lead) error) (leads.Lead, error) {
	var lead leads.Lead
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&lead).Error; err != nil {
			return translateNotFound(err)
		}
		if err := mutate(&lead); err != nil {
			return err
		}
		return tx.Save(&lead).Error
	})
	if err != nil {
		return leads.Lead{}, err
	}
	return lead, nil
}

// ListMatchableLeads returns leads eligible for suggestions, newest first.
func (r *GormRepository) ListMatchableLeads(ctx context.Context) ([]leads.Lead, error) {
	var candidates []leads.Lead
	err := r.db.WithContext(ctx).
		Where("matching_enabled = ? AND phone IS NOT NULL AND phone <> '' AND status IN ?", true, leads.MatchableStatuses).
		Order("created_at DESC").
		Order("id DESC").
		Find(&candidates).Error
	return candidates, err
}

// MarkLeadsContacted moves new, interested and lost leads to contacted.
func (r *GormRepository) MarkLeadsContacted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&leads.Lead{}).
		Where("id IN ? AND status IN ?", ids, []string{leads.StatusNew, leads.StatusInterested, leads.StatusLost}).
		Updates(map[string]any{"status": leads.StatusContacted, "updated_at": r.clock().UTC()}).Error
}

func (r *GormRepository) CreateProperty(ctx context.Context, property *listings.Property) error {
	return r.db.WithContext(ctx).Create(property).Error
}

func (r *GormRepository) FindProperty(ctx context.Context, id string) (listings.Property, error) {
	var property listings.Property
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&property).Error
	return property, translateNotFound(err)
}

// UpdateProperty loads the listing under a row lock, applies mutate and saves it in one
// transaction, so concurrent price edits see each other's results.
func (r *GormRepository) UpdateProperty(ctx context.Context, id string, mutate func(*listings.Property) error) (listings.Property, error) {
	var property listings.Property
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&property).Error; err != nil {
			return translateNotFound(err)
		}
		if err := mutate(&property); err != nil {
			return err
		}
		return tx.Save(&property).Error
	})
	if err != nil {
		return listings.Property{}, err
	}
	return property, nil
}

// ListAvailableProperties returns available listings, newest first.
func (r *GormRepository) ListAvailableProperties(ctx context.Context) ([]listings.Property, error) {
	var properties []listings.Property
	err := r.db.WithContext(ctx).
		Where("status = ?", listings.StatusAvailable).
		Order("created_at DESC").
		Order("id DESC").
		Find(&properties).Error
	return properties, err
}

// SaveSubscription inserts the subscription or reactivates the existing one for the
// same listing and subscriber, returning the stored row.
func (r *GormRepository) SaveSubscription(ctx context.Context, subscription leads.PriceAlertSubscription) (leads.PriceAlertSubscription, error) {
	now := r.clock().UTC()
	subscription.Active = true
	subscription.CreatedAt = now
	subscription.UpdatedAt = now

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "property_id"}, {Name: "subscriber_key"}},
		DoUpdates: append(
			clause.AssignmentColumns([]string{"name", "phone", "active", "updated_at"}),
			clause.Assignment{
				Column: clause.Column{Name: "lead_id"},
				Value:  gorm.Expr("COALESCE(excluded.lead_id, price_alert_subscriptions.lead_id)"),
			},
		),
	}).Create(&subscription).Error
	if err != nil {
		return leads.PriceAlertSubscription{}, err
	}

	var stored leads.PriceAlertSubscription
	err = db.Where("property_id = ? AND subscriber_key = ?", subscription.PropertyID, subscription.SubscriberKey).
		Take(&stored).Error
	return stored, translateNotFound(err)
}

func (r *GormRepository) DeactivateSubscription(ctx context.Context, propertyID, subscriberKey string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&leads.PriceAlertSubscription{}).
		Where("property_id = ? AND subscriber_key = ? AND active = ?", propertyID, subscriberKey, true).
		Updates(map[string]any{"active": false, "updated_at": r.clock().UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) ListActiveSubscriptions(ctx context.Context, propertyID string) ([]leads.PriceAlertSubscription, error) {
	var subscriptions []leads.PriceAlertSubscription
	err := r.db.WithContext(ctx).
		Where("property_id = ? AND active = ?", propertyID, true).
		Order("created_at ASC").
		Order("id ASC").
		Find(&subscriptions).Error
	return subscriptions, err
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
