package leads

import (
	"errors"
	"strings"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/phone"
)

var (
	// ErrMissingSubscriber indicates that neither a lead id nor a usable phone was supplied.
	ErrMissingSubscriber = errors.New("leads: subscriber lead id or phone required")
	// ErrMissingProperty indicates that the subscription has no target listing.
	ErrMissingProperty = errors.New("leads: property id required")
)

// PriceAlertSubscription asks for a message whenever a listing gets cheaper.
type PriceAlertSubscription struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	PropertyID    string    `gorm:"column:property_id;size:64;not null;uniqueIndex:idx_price_alert_subscriber" json:"property_id"`
	SubscriberKey string    `gorm:"column:subscriber_key;size:128;not null;uniqueIndex:idx_price_alert_subscriber" json:"-"`
	LeadID        *string   `gorm:"column:lead_id;size:64;index" json:"lead_id,omitempty"`
	Name          string    `gorm:"column:name;size:190" json:"name"`
	Phone         string    `gorm:"column:phone;size:32;not null" json:"phone"`
	Active        bool      `gorm:"column:active;not null;index" json:"active"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing price alert subscriptions.
func (PriceAlertSubscription) TableName() string {
	return "price_alert_subscriptions"
}

// RecipientKey identifies the subscriber across messages.
func (s PriceAlertSubscription) RecipientKey() string {
	return s.SubscriberKey
}

// SubscriberKey derives the uniqueness key of a subscription. The normalized phone
// wins whenever one is known, so one person holds one subscription per listing
// whether they subscribed as a lead or by phone.
func SubscriberKey(leadID *string, rawPhone string) (string, error) {
	if normalized := phone.Normalize(rawPhone); normalized != "" {
		return "phone:" + normalized, nil
	}
	if leadID != nil {
		if trimmed := strings.TrimSpace(*leadID); trimmed != "" {
			return "lead:" + trimmed, nil
		}
	}
	return "", ErrMissingSubscriber
}

// RecipientKey identifies a lead as a message recipient.
func (l Lead) RecipientKey() string {
	return "lead:" + l.ID
}
