package leads

import (
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/shopspring/decimal"
)

// Price band applied around the listing a visitor showed interest in.
var (
	priceBandLower = decimal.RequireFromString("0.8")
	priceBandUpper = decimal.RequireFromString("1.2")
)

// Preferences are the matching criteria of a lead. Zero values mean "no constraint".
type Preferences struct {
	PriceMin     decimal.NullDecimal `gorm:"column:price_min;type:decimal(14,2)" json:"price_min"`
	PriceMax     decimal.NullDecimal `gorm:"column:price_max;type:decimal(14,2)" json:"price_max"`
	Category     string              `gorm:"column:category;size:64" json:"category,omitempty"`
	ListingType  string              `gorm:"column:listing_type;size:32" json:"listing_type,omitempty"`
	City         string              `gorm:"column:city;size:128" json:"city,omitempty"`
	State        string              `gorm:"column:state;size:8" json:"state,omitempty"`
	MinBedrooms  *int                `gorm:"column:min_bedrooms" json:"min_bedrooms,omitempty"`
	MinBathrooms *int                `gorm:"column:min_bathrooms" json:"min_bathrooms,omitempty"`
}

// HasCriteria reports whether at least one criterion is set.
func (p Preferences) HasCriteria() bool {
	return p.PriceMin.Valid ||
		p.PriceMax.Valid ||
		p.Category != "" ||
		p.ListingType != "" ||
		p.City != "" ||
		p.State != "" ||
		p.MinBedrooms != nil ||
		p.MinBathrooms != nil
}

// PriceInverted reports whether both bounds are set with the minimum above the maximum.
func (p Preferences) PriceInverted() bool {
	return p.PriceMin.Valid && p.PriceMax.Valid && p.PriceMin.Decimal.GreaterThan(p.PriceMax.Decimal)
}

// Overrides carries criteria the visitor stated explicitly. Nil fields and blank
// strings leave the derived value in place.
type Overrides struct {
	PriceMin        *decimal.Decimal
	PriceMax        *decimal.Decimal
	Category        *string
	ListingType     *string
	City            *string
	State           *string
	MinBedrooms     *int
	MinBathrooms    *int
	MatchingEnabled *bool
}

// DerivePreferences builds criteria from the listing a visitor asked about.
func DerivePreferences(snapshot *listings.Property) Preferences {
	if snapshot == nil {
		return Preferences{}
	}

	priceMin := decimal.Max(decimal.Zero, snapshot.Price.Mul(priceBandLower)).Round(2)
	priceMax := snapshot.Price.Mul(priceBandUpper).Round(2)
	bedrooms := snapshot.Bedrooms
	bathrooms := snapshot.Bathrooms

	return Preferences{
		PriceMin:     decimal.NewNullDecimal(priceMin),
		PriceMax:     decimal.NewNullDecimal(priceMax),
		Category:     strings.TrimSpace(snapshot.Category),
		ListingType:  strings.TrimSpace(snapshot.ListingType),
		City:         strings.TrimSpace(snapshot.City),
		State:        strings.TrimSpace(snapshot.State),
		MinBedrooms:  &bedrooms,
		MinBathrooms: &bathrooms,
	}
}

// ApplyOverrides lays explicit criteria over derived ones.
func ApplyOverrides(derived Preferences, overrides Overrides) Preferences {
	result := derived
	if overrides.PriceMin != nil {
		result.PriceMin = decimal.NewNullDecimal(*overrides.PriceMin)
	}
	if overrides.PriceMax != nil {
		result.PriceMax = decimal.NewNullDecimal(*overrides.PriceMax)
	}
	overrideString(&result.Category, overrides.Category)
	overrideString(&result.ListingType, overrides.ListingType)
	overrideString(&result.City, overrides.City)
	overrideString(&result.State, overrides.State)
	if overrides.MinBedrooms != nil {
		value := *overrides.MinBedrooms
		result.MinBedrooms = &value
	}
	if overrides.MinBathrooms != nil {
		value := *overrides.MinBathrooms
		result.MinBathrooms = &value
	}
	return result
}

// BuildPreferences runs both stages and decides whether matching starts enabled.
// An inverted price range can match nothing, so both bounds are dropped.
func BuildPreferences(snapshot *listings.Property, overrides Overrides) (Preferences, bool) {
	preferences := ApplyOverrides(DerivePreferences(snapshot), overrides)
	if preferences.PriceInverted() {
		preferences.PriceMin = decimal.NullDecimal{}
		preferences.PriceMax = decimal.NullDecimal{}
	}
	matchingEnabled := preferences.HasCriteria()
	if overrides.MatchingEnabled != nil {
		matchingEnabled = *overrides.MatchingEnabled
	}
	return preferences, matchingEnabled
}

func overrideString(target *string, value *string) {
	if value == nil {
		return
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return
	}
	*target = trimmed
}
