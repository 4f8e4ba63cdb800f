// Package matching decides which leads a listing satisfies.
//
// Every criterion a lead holds must hold for the listing; unset criteria never
// constrain. Leads without any criterion or with matching disabled never match.
package matching

import (
	"fmt"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
)

// Matches reports whether the listing satisfies every criterion of the lead.
func Matches(property listings.Property, lead leads.Lead) bool {
	if !lead.MatchingEnabled {
		return false
	}
	return satisfies(property, lead.Preferences)
}

// Match returns the candidates the listing satisfies. Order is not significant.
func Match(property listings.Property, candidates []leads.Lead) []leads.Lead {
	matched := make([]leads.Lead, 0, len(candidates))
	for _, candidate := range candidates {
		if Matches(property, candidate) {
			matched = append(matched, candidate)
		}
	}
	return matched
}

// MatchProperties is the reverse lookup: the listings that satisfy one lead.
func MatchProperties(lead leads.Lead, properties []listings.Property) []listings.Property {
	if !lead.Preferences.HasCriteria() {
		return nil
	}
	matched := make([]listings.Property, 0, len(properties))
	for _, property := range properties {
		if satisfies(property, lead.Preferences) {
			matched = append(matched, property)
		}
	}
	return matched
}

// Reasons lists the criteria the listing satisfies, in message order.
func Reasons(property listings.Property, preferences leads.Preferences) []string {
	reasons := make([]string, 0, 6)
	if preferences.PriceMin.Valid || preferences.PriceMax.Valid {
		reasons = append(reasons, "Dentro da sua faixa de preço")
	}
	if preferences.Category != "" {
		reasons = append(reasons, fmt.Sprintf("Categoria: %s", property.Category))
	}
	if preferences.ListingType != "" {
		reasons = append(reasons, fmt.Sprintf("Negócio: %s", property.ListingType))
	}
	if preferences.City != "" {
		reasons = append(reasons, fmt.Sprintf("Cidade: %s", property.City))
	}
	if preferences.State != "" && preferences.City == "" {
		reasons = append(reasons, fmt.Sprintf("Estado: %s", property.State))
	}
	if preferences.MinBedrooms != nil && *preferences.MinBedrooms > 0 {
		reasons = append(reasons, fmt.Sprintf("Quartos: %d", property.Bedrooms))
	}
	if preferences.MinBathrooms != nil && *preferences.MinBathrooms > 0 {
		reasons = append(reasons, fmt.Sprintf("Banheiros: %d", property.Bathrooms))
	}
	return reasons
}

func satisfies(property listings.Property, preferences leads.Preferences) bool {
	if !preferences.HasCriteria() {
		return false
	}
	if preferences.PriceMin.Valid && property.Price.LessThan(preferences.PriceMin.Decimal) {
		return false
	}
	if preferences.PriceMax.Valid && property.Price.GreaterThan(preferences.PriceMax.Decimal) {
		return false
	}
	if !sameText(preferences.Category, property.Category) {
		return false
	}
	if !sameText(preferences.ListingType, property.ListingType) {
		return false
	}
	if !sameText(preferences.City, property.City) {
		return false
	}
	if !sameText(preferences.State, property.State) {
		return false
	}
	if preferences.MinBedrooms != nil && property.Bedrooms < *preferences.MinBedrooms {
		return false
	}
	if preferences.MinBathrooms != nil && property.Bathrooms < *preferences.MinBathrooms {
		return false
	}
	return true
}

// sameText treats an empty criterion as a wildcard.
func sameText(criterion, value string) bool {
	criterion = strings.TrimSpace(criterion)
	if criterion == "" {
		return true
	}
	return strings.EqualFold(criterion, strings.TrimSpace(value))
}
