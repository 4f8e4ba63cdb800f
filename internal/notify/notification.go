package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/phone"
	"github.com/shopspring/decimal"
)

// Kind names the reason a message is sent.
type Kind string

const (
	// KindPropertyMatch tells a lead about a listing that satisfies their criteria.
	KindPropertyMatch Kind = "property_match"
	// KindPriceReduction tells a subscriber that a listing got cheaper.
	KindPriceReduction Kind = "price_reduction"
	// KindLeadAlert tells the agency about a new lead.
	KindLeadAlert Kind = "lead_alert"
)

// Recipient identifies who receives a message. Key is stable across messages
// (lead id or normalized phone); Phone is where the message goes.
type Recipient struct {
	Key   string
	Name  string
	Phone string
}

// IdentityKey returns the recipient key, falling back to the normalized phone.
func (r Recipient) IdentityKey() string {
	if key := strings.TrimSpace(r.Key); key != "" {
		return key
	}
	return "phone:" + phone.Normalize(r.Phone)
}

// Notification is one message to one recipient about one listing.
type Notification struct {
	Kind       Kind
	Recipient  Recipient
	PropertyID string
	// Price is the listing price the message announces; part of the dedup key for
	// price reductions only.
	Price decimal.NullDecimal
	// Reference distinguishes messages that share recipient, listing and kind,
	// such as admin alerts for different leads.
	Reference string
	Text      string
	ImageURL  string
}

// DedupKey derives the idempotency key of a notification.
func DedupKey(notification Notification) string {
	parts := []string{
		string(notification.Kind),
		notification.Recipient.IdentityKey(),
		strings.TrimSpace(notification.PropertyID),
	}
	if notification.Kind == KindPriceReduction && notification.Price.Valid {
		parts = append(parts, notification.Price.Decimal.StringFixed(2))
	}
	if reference := strings.TrimSpace(notification.Reference); reference != "" {
		parts = append(parts, reference)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func payloadDigest(message Message) string {
	sum := sha256.Sum256([]byte(message.Text + "\x1f" + message.ImageURL))
	return hex.EncodeToString(sum[:])
}

// OutcomeStatus reports what happened to a notification.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the per-recipient result of a dispatch.
type Outcome struct {
	Kind         Kind          `json:"kind"`
	RecipientKey string        `json:"recipient"`
	DedupKey     string        `json:"dedup_key"`
	Status       OutcomeStatus `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	ProviderID   string        `json:"provider_id,omitempty"`
	Attempts     int           `json:"attempts,omitempty"`
}

// Summary counts outcomes by status.
type Summary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) Summary {
	var summary Summary
	for _, outcome := range outcomes {
		switch outcome.Status {
		case OutcomeSent:
			summary.Sent++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}
	return summary
}
