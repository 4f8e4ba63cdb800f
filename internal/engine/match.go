package engine

import (
	"context"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/matching"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"go.uber.org/zap"
)

const defaultSuggestionLimit = 5

// MatchResult reports one match run.
type MatchResult struct {
	Property      listings.Property
	Matched       []leads.Lead
	Notifications []notify.Outcome
	Summary       notify.Summary
}

// RunMatch matches the listing against every eligible lead and sends each match a
// suggestion. Leads that were told are moved to contacted.
func (s *Service) RunMatch(ctx context.Context, propertyID string) (MatchResult, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return MatchResult{}, invalid(opRunMatch, "missing_property_id", leads.ErrMissingProperty)
	}
	property, err := s.repository.FindProperty(ctx, propertyID)
	if err != nil {
		return MatchResult{}, s.fail(opRunMatch, "property_lookup_failed", err, zap.String("property_id", propertyID))
	}

	matched, err := s.matchingLeads(ctx, property)
	if err != nil {
		return MatchResult{}, s.fail(opRunMatch, "lead_query_failed", err, zap.String("property_id", propertyID))
	}
	outcomes := s.notifyMatches(ctx, property, matched, triggerManual)
	return MatchResult{
		Property:      property,
		Matched:       matched,
		Notifications: outcomes,
		Summary:       notify.Summarize(outcomes),
	}, nil
}

func (s *Service) matchAndNotify(ctx context.Context, property listings.Property, trigger string) ([]notify.Outcome, error) {
	matched, err := s.matchingLeads(ctx, property)
	if err != nil {
		return nil, err
	}
	return s.notifyMatches(ctx, property, matched, trigger), nil
}

// matchingLeads returns eligible leads matching the listing, newest first, without
// the leads whose original interest was this listing.
func (s *Service) matchingLeads(ctx context.Context, property listings.Property) ([]leads.Lead, error) {
	candidates, err := s.repository.ListMatchableLeads(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]leads.Lead, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.IsMatchable() {
			continue
		}
		if candidate.PropertyID != nil && *candidate.PropertyID == property.ID {
			continue
		}
		eligible = append(eligible, candidate)
	}
	return matching.Match(property, eligible), nil
}

func (s *Service) notifyMatches(ctx context.Context, property listings.Property, matched []leads.Lead, trigger string) []notify.Outcome {
	if s.observer != nil {
		s.observer.ObserveMatchRun(trigger)
	}
	if len(matched) == 0 {
		s.loggerOrDefault().Info("no leads matched", zap.String("property_id", property.ID))
		return nil
	}

	imageURL := s.imageURL(ctx, property)
	notifications := make([]notify.Notification, 0, len(matched))
	for _, lead := range matched {
		text, err := notify.RenderPropertyMatch(notify.PropertyMatchMessage{
			LeadName:    lead.Name,
			Title:       property.Title,
			Price:       property.Price,
			City:        property.City,
			State:       property.State,
			Category:    property.Category,
			Bedrooms:    property.Bedrooms,
			Bathrooms:   property.Bathrooms,
			Reasons:     matching.Reasons(property, lead.Preferences),
			PropertyURL: s.propertyURL(property),
			OptOutURL:   s.optOutURL(lead.ID),
			Agency:      s.agency,
		})
		if err != nil {
			s.loggerOrDefault().Warn("match message not rendered", zap.String("lead_id", lead.ID), zap.Error(err))
			continue
		}
		notifications = append(notifications, notify.Notification{
			Kind:       notify.KindPropertyMatch,
			Recipient:  notify.Recipient{Key: lead.RecipientKey(), Name: lead.Name, Phone: lead.Phone},
			PropertyID: property.ID,
			Text:       text,
			ImageURL:   imageURL,
		})
	}

	outcomes := s.dispatcher.DispatchAll(ctx, notifications)
	contacted := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Status == notify.OutcomeSent {
			contacted = append(contacted, strings.TrimPrefix(outcome.RecipientKey, "lead:"))
		}
	}
	if err := s.repository.MarkLeadsContacted(context.WithoutCancel(ctx), contacted); err != nil {
		s.loggerOrDefault().Warn("contacted leads not updated", zap.Int("count", len(contacted)), zap.Error(err))
	}

	summary := notify.Summarize(outcomes)
	s.loggerOrDefault().Info("match dispatched",
		zap.String("property_id", property.ID),
		zap.String("trigger", trigger),
		zap.Int("matched", len(matched)),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return outcomes
}

// SuggestProperties returns available listings matching the lead's preferences,
// newest first, excluding the listing of the original interest. A limit of zero or
// less applies the default of five.
func (s *Service) SuggestProperties(ctx context.Context, leadID string, limit int) ([]listings.Property, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return nil, invalid(opSuggestProperties, "missing_lead_id", errMissingLeadID)
	}
	lead, err := s.repository.FindLead(ctx, leadID)
	if err != nil {
		return nil, s.fail(opSuggestProperties, "lead_lookup_failed", err, zap.String("lead_id", leadID))
	}
	if !lead.MatchingEnabled {
		return []listings.Property{}, nil
	}

	available, err := s.repository.ListAvailableProperties(ctx)
	if err != nil {
		return nil, s.fail(opSuggestProperties, "property_query_failed", err, zap.String("lead_id", leadID))
	}
	candidates := make([]listings.Property, 0, len(available))
	for _, property := range available {
		if lead.PropertyID != nil && *lead.PropertyID == property.ID {
			continue
		}
		candidates = append(candidates, property)
	}

	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	suggestions := matching.MatchProperties(lead, candidates)
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	if suggestions == nil {
		suggestions = []listings.Property{}
	}
	return suggestions, nil
}
