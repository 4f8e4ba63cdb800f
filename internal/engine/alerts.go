package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/phone"
	"go.uber.org/zap"
)

var (
	errMissingLeadID            = errors.New("lead id is required")
	errMissingPhone             = errors.New("a whatsapp phone is required")
	errMissingReferenceProperty = errors.New("lead has no listing of interest")
)

// SubscriptionInput identifies who wants price alerts for which listing. When LeadID is
// set, missing name and phone are taken from the lead.
type SubscriptionInput struct {
	PropertyID string
	LeadID     *string
	Name       string
	Phone      string
}

// SubscribePriceAlert stores an active subscription, reactivating an earlier one for
// the same listing and subscriber.
func (s *Service) SubscribePriceAlert(ctx context.Context, input SubscriptionInput) (leads.PriceAlertSubscription, error) {
	propertyID := strings.TrimSpace(input.PropertyID)
	if propertyID == "" {
		return leads.PriceAlertSubscription{}, invalid(opSubscribePriceAlert, "missing_property_id", leads.ErrMissingProperty)
	}
	if _, err := s.repository.FindProperty(ctx, propertyID); err != nil {
		return leads.PriceAlertSubscription{}, s.fail(opSubscribePriceAlert, "property_lookup_failed", err, zap.String("property_id", propertyID))
	}

	name := strings.TrimSpace(input.Name)
	rawPhone := strings.TrimSpace(input.Phone)
	var leadID *string
	if input.LeadID != nil && strings.TrimSpace(*input.LeadID) != "" {
		lead, err := s.repository.FindLead(ctx, strings.TrimSpace(*input.LeadID))
		if err != nil {
			return leads.PriceAlertSubscription{}, s.fail(opSubscribePriceAlert, "lead_lookup_failed", err)
		}
		leadID = &lead.ID
		if name == "" {
			name = lead.Name
		}
		if rawPhone == "" {
			rawPhone = lead.Phone
		}
	}

	normalizedPhone := phone.Normalize(rawPhone)
	if normalizedPhone == "" {
		return leads.PriceAlertSubscription{}, invalid(opSubscribePriceAlert, "missing_phone", errMissingPhone)
	}
	subscriberKey, err := leads.SubscriberKey(leadID, normalizedPhone)
	if err != nil {
		return leads.PriceAlertSubscription{}, invalid(opSubscribePriceAlert, "missing_subscriber", err)
	}
	subscriptionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubscribePriceAlert, "id_generation_failed", err)
		return leads.PriceAlertSubscription{}, newServiceError(ErrPersistence, opSubscribePriceAlert, "id_generation_failed", err)
	}

	stored, err := s.repository.SaveSubscription(ctx, leads.PriceAlertSubscription{
		ID:            subscriptionID,
		PropertyID:    propertyID,
		SubscriberKey: subscriberKey,
		LeadID:        leadID,
		Name:          name,
		Phone:         normalizedPhone,
	})
	if err != nil {
		return leads.PriceAlertSubscription{}, s.fail(opSubscribePriceAlert, "subscription_save_failed", err, zap.String("property_id", propertyID))
	}
	return stored, nil
}

// UnsubscribePriceAlert deactivates the subscription and reports whether one was active.
func (s *Service) UnsubscribePriceAlert(ctx context.Context, input SubscriptionInput) (bool, error) {
	propertyID := strings.TrimSpace(input.PropertyID)
	if propertyID == "" {
		return false, invalid(opUnsubscribeAlert, "missing_property_id", leads.ErrMissingProperty)
	}
	rawPhone := strings.TrimSpace(input.Phone)
	if rawPhone == "" && input.LeadID != nil && strings.TrimSpace(*input.LeadID) != "" {
		lead, err := s.repository.FindLead(ctx, strings.TrimSpace(*input.LeadID))
		if err != nil {
			return false, s.fail(opUnsubscribeAlert, "lead_lookup_failed", err)
		}
		rawPhone = lead.Phone
	}
	subscriberKey, err := leads.SubscriberKey(input.LeadID, rawPhone)
	if err != nil {
		return false, invalid(opUnsubscribeAlert, "missing_subscriber", err)
	}
	deactivated, err := s.repository.DeactivateSubscription(ctx, propertyID, subscriberKey)
	if err != nil {
		return false, s.fail(opUnsubscribeAlert, "subscription_update_failed", err, zap.String("property_id", propertyID))
	}
	return deactivated, nil
}

// OptOut stops match suggestions for the lead.
func (s *Service) OptOut(ctx context.Context, leadID string) (leads.Lead, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return leads.Lead{}, invalid(opOptOut, "missing_lead_id", errMissingLeadID)
	}
	lead, err := s.repository.UpdateLead(ctx, leadID, func(lead *leads.Lead) error {
		lead.MatchingEnabled = false
		return nil
	})
	if err != nil {
		return leads.Lead{}, s.fail(opOptOut, "lead_update_failed", err, zap.String("lead_id", leadID))
	}
	s.loggerOrDefault().Info("lead opted out", zap.String("lead_id", leadID))
	return lead, nil
}

// RefreshResult reports whether preferences were rebuilt.
type RefreshResult struct {
	Lead    leads.Lead
	Changed bool
}

// RefreshPreferences rebuilds the preferences of a lead without a price range from its
// listing of interest and enables matching. Criteria the listing cannot provide keep
// their stored values.
func (s *Service) RefreshPreferences(ctx context.Context, leadID string) (RefreshResult, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return RefreshResult{}, invalid(opRefreshPreferences, "missing_lead_id", errMissingLeadID)
	}
	lead, err := s.repository.FindLead(ctx, leadID)
	if err != nil {
		return RefreshResult{}, s.fail(opRefreshPreferences, "lead_lookup_failed", err, zap.String("lead_id", leadID))
	}
	if hasPriceRange(lead.Preferences) {
		return RefreshResult{Lead: lead}, nil
	}
	if lead.PropertyID == nil {
		return RefreshResult{}, invalid(opRefreshPreferences, "missing_reference_property", errMissingReferenceProperty)
	}
	property, err := s.repository.FindProperty(ctx, *lead.PropertyID)
	if err != nil {
		return RefreshResult{}, s.fail(opRefreshPreferences, "property_lookup_failed", err, zap.String("lead_id", leadID))
	}

	changed := false
	updated, err := s.repository.UpdateLead(ctx, leadID, func(stored *leads.Lead) error {
		if hasPriceRange(stored.Preferences) {
			return nil
		}
		stored.Preferences = mergeDerived(stored.Preferences, leads.DerivePreferences(&property))
		stored.MatchingEnabled = true
		changed = true
		return nil
	})
	if err != nil {
		return RefreshResult{}, s.fail(opRefreshPreferences, "lead_update_failed", err, zap.String("lead_id", leadID))
	}
	return RefreshResult{Lead: updated, Changed: changed}, nil
}

func hasPriceRange(preferences leads.Preferences) bool {
	return preferences.PriceMin.Valid && preferences.PriceMax.Valid
}

// mergeDerived overlays derived criteria on the stored ones, keeping stored text
// criteria the listing leaves blank.
func mergeDerived(stored, derived leads.Preferences) leads.Preferences {
	merged := derived
	keep := func(target *string, previous string) {
		if strings.TrimSpace(*target) == "" {
			*target = previous
		}
	}
	keep(&merged.Category, stored.Category)
	keep(&merged.ListingType, stored.ListingType)
	keep(&merged.City, stored.City)
	keep(&merged.State, stored.State)
	return merged
}
