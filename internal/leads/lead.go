package leads

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// StatusNew is assigned to every lead on intake.
	StatusNew = "novo"
	// StatusInterested marks a lead that replied with interest.
	StatusInterested = "interessado"
	// StatusContacted marks a lead that already received an outbound message.
	StatusContacted = "contatado"
	// StatusLost marks a lead that went quiet.
	StatusLost = "perdido"
	// StatusClosed marks a lead that converted.
	StatusClosed = "fechado"
)

const (
	maxNameLength  = 190
	maxEmailLength = 320
	maxPhoneLength = 32
)

var (
	// ErrMissingName indicates that the visitor name is empty.
	ErrMissingName = errors.New("leads: name required")
	// ErrMissingContact indicates that neither phone nor email was supplied.
	ErrMissingContact = errors.New("leads: phone or email required")
	// ErrFieldTooLong indicates that a contact field exceeds storage bounds.
	ErrFieldTooLong = errors.New("leads: field too long")
)

// MatchableStatuses lists the lead statuses that still receive property suggestions.
var MatchableStatuses = []string{StatusNew, StatusInterested, StatusLost, StatusContacted}

// Lead is an expression of interest captured from the public site.
type Lead struct {
	ID              string      `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name            string      `gorm:"column:name;size:190;not null" json:"name"`
	Email           string      `gorm:"column:email;size:320" json:"email,omitempty"`
	Phone           string      `gorm:"column:phone;size:32;index" json:"phone,omitempty"`
	Message         string      `gorm:"column:message;type:text" json:"message,omitempty"`
	Source          string      `gorm:"column:source;size:64" json:"source,omitempty"`
	Status          string      `gorm:"column:status;size:32;index;not null" json:"status"`
	PropertyID      *string     `gorm:"column:property_id;size:64;index" json:"property_id,omitempty"`
	Preferences     Preferences `gorm:"embedded;embeddedPrefix:pref_" json:"preferences"`
	MatchingEnabled bool        `gorm:"column:matching_enabled;not null;index" json:"matching_enabled"`
	CreatedAt       time.Time   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing leads.
func (Lead) TableName() string {
	return "leads"
}

// Contact is the visitor-supplied identity of a lead.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Validate trims the contact and checks the intake rules: a name and at least one
// contact channel.
func (c Contact) Validate() (Contact, error) {
	normalized := Contact{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.TrimSpace(c.Email),
		Phone: strings.TrimSpace(c.Phone),
	}
	if normalized.Name == "" {
		return Contact{}, ErrMissingName
	}
	if normalized.Email == "" && normalized.Phone == "" {
		return Contact{}, ErrMissingContact
	}
	if len(normalized.Name) > maxNameLength {
		return Contact{}, fmt.Errorf("%w: name exceeds %d characters", ErrFieldTooLong, maxNameLength)
	}
	if len(normalized.Email) > maxEmailLength {
		return Contact{}, fmt.Errorf("%w: email exceeds %d characters", ErrFieldTooLong, maxEmailLength)
	}
	if len(normalized.Phone) > maxPhoneLength {
		return Contact{}, fmt.Errorf("%w: phone exceeds %d characters", ErrFieldTooLong, maxPhoneLength)
	}
	return normalized, nil
}

// IsMatchable reports whether the lead should take part in a match run.
func (l Lead) IsMatchable() bool {
	if !l.MatchingEnabled || strings.TrimSpace(l.Phone) == "" {
		return false
	}
	for _, status := range MatchableStatuses {
		if l.Status == status {
			return true
		}
	}
	return false
}
