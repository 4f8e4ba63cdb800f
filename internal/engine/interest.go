package engine

import (
	"context"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"github.com/dcruzimoveis/leadmatch/internal/phone"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const leadAlertTimeLayout = "02/01/2006 15:04"

// InterestInput describes one interest event from the site.
type InterestInput struct {
	PropertyID *string
	Name       string
	Email      string
	Phone      string
	Message    string
	Source     string
	Overrides  leads.Overrides
}

// InterestResult carries the stored lead and the outcome of the agency alert, if any.
type InterestResult struct {
	Lead       leads.Lead
	AdminAlert *notify.Outcome
}

// RecordInterest creates a lead with preferences derived from the listing of interest
// and explicit overrides, then alerts the agency. The alert never fails the call.
func (s *Service) RecordInterest(ctx context.Context, input InterestInput) (InterestResult, error) {
	contact, err := leads.Contact{Name: input.Name, Email: input.Email, Phone: input.Phone}.Validate()
	if err != nil {
		return InterestResult{}, invalid(opRecordInterest, "invalid_contact", err)
	}

	var snapshot *listings.Property
	var propertyID *string
	if input.PropertyID != nil {
		if trimmed := strings.TrimSpace(*input.PropertyID); trimmed != "" {
			property, err := s.repository.FindProperty(ctx, trimmed)
			if err != nil {
				return InterestResult{}, s.fail(opRecordInterest, "property_lookup_failed", err, zap.String("property_id", trimmed))
			}
			snapshot = &property
			propertyID = &trimmed
		}
	}

	preferences, matchingEnabled := leads.BuildPreferences(snapshot, input.Overrides)

	leadID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordInterest, "id_generation_failed", err)
		return InterestResult{}, newServiceError(ErrPersistence, opRecordInterest, "id_generation_failed", err)
	}

	storedPhone := contact.Phone
	if normalized := phone.Normalize(contact.Phone); normalized != "" {
		storedPhone = normalized
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = "site"
	}
	lead := leads.Lead{
		ID:              leadID,
		Name:            contact.Name,
		Email:           contact.Email,
		Phone:           storedPhone,
		Message:         strings.TrimSpace(input.Message),
		Source:          source,
		Status:          leads.StatusNew,
		PropertyID:      propertyID,
		Preferences:     preferences,
		MatchingEnabled: matchingEnabled,
	}
	if err := s.repository.CreateLead(ctx, &lead); err != nil {
		return InterestResult{}, s.fail(opRecordInterest, "lead_insert_failed", err, zap.String("lead_id", leadID))
	}

	s.loggerOrDefault().Info("lead recorded",
		zap.String("lead_id", lead.ID),
		zap.Bool("matching_enabled", lead.MatchingEnabled),
	)

	result := InterestResult{Lead: lead}
	if outcome, sent := s.alertAgency(ctx, lead, snapshot); sent {
		result.AdminAlert = &outcome
	}
	return result, nil
}

func (s *Service) alertAgency(ctx context.Context, lead leads.Lead, property *listings.Property) (notify.Outcome, bool) {
	if s.adminPhone == "" {
		return notify.Outcome{}, false
	}

	message := notify.LeadAlertMessage{
		LeadID:     lead.ID,
		LeadName:   lead.Name,
		Phone:      lead.Phone,
		Email:      lead.Email,
		Message:    lead.Message,
		ReceivedAt: s.clock().Format(leadAlertTimeLayout),
	}
	propertyID := ""
	imageURL := ""
	if property != nil {
		propertyID = property.ID
		imageURL = s.imageURL(ctx, *property)
		message.PropertyTitle = property.Title
		message.PropertyPrice = decimal.NewNullDecimal(property.Price)
	}
	text, err := notify.RenderLeadAlert(message)
	if err != nil {
		s.loggerOrDefault().Warn("lead alert not rendered", zap.String("lead_id", lead.ID), zap.Error(err))
		return notify.Outcome{}, false
	}

	outcome := s.dispatcher.Dispatch(ctx, notify.Notification{
		Kind:       notify.KindLeadAlert,
		Recipient:  notify.Recipient{Key: "admin", Name: s.agency, Phone: s.adminPhone},
		PropertyID: propertyID,
		Reference:  lead.ID,
		Text:       text,
		ImageURL:   imageURL,
	})
	return outcome, true
}
