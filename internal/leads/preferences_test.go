package leads

import (
	"errors"
	"testing"

	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/shopspring/decimal"
)

func stringPtr(value string) *string {
	return &value
}

func intPtr(value int) *int {
	return &value
}

func sampleProperty() *listings.Property {
	return &listings.Property{
		ID:          "property-1",
		Title:       "Casa no Lago Sul",
		Category:    "casa",
		ListingType: string(listings.ListingTypeSale),
		Price:       decimal.NewFromInt(500000),
		City:        "Brasília",
		State:       "DF",
		Bedrooms:    3,
		Bathrooms:   2,
	}
}

func TestDerivePreferencesFromListing(t *testing.T) {
	preferences := DerivePreferences(sampleProperty())

	if !preferences.PriceMin.Valid || !preferences.PriceMin.Decimal.Equal(decimal.NewFromInt(400000)) {
		t.Fatalf("unexpected price min %v", preferences.PriceMin)
	}
	if !preferences.PriceMax.Valid || !preferences.PriceMax.Decimal.Equal(decimal.NewFromInt(600000)) {
		t.Fatalf("unexpected price max %v", preferences.PriceMax)
	}
	if preferences.Category != "casa" || preferences.City != "Brasília" || preferences.State != "DF" {
		t.Fatalf("unexpected location criteria %+v", preferences)
	}
	if preferences.ListingType != "venda" {
		t.Fatalf("unexpected listing type %q", preferences.ListingType)
	}
	if preferences.MinBedrooms == nil || *preferences.MinBedrooms != 3 {
		t.Fatalf("unexpected bedrooms %v", preferences.MinBedrooms)
	}
	if preferences.MinBathrooms == nil || *preferences.MinBathrooms != 2 {
		t.Fatalf("unexpected bathrooms %v", preferences.MinBathrooms)
	}
}

func TestDerivePreferencesWithoutListing(t *testing.T) {
	preferences := DerivePreferences(nil)
	if preferences.HasCriteria() {
		t.Fatalf("expected no criteria without a listing, got %+v", preferences)
	}
}

func TestApplyOverridesReplacesDerivedValues(t *testing.T) {
	explicitMax := decimal.NewFromInt(700000)
	preferences := ApplyOverrides(DerivePreferences(sampleProperty()), Overrides{
		PriceMax:    &explicitMax,
		City:        stringPtr("Taguatinga"),
		Category:    stringPtr("   "),
		MinBedrooms: intPtr(4),
	})

	if !preferences.PriceMax.Decimal.Equal(explicitMax) {
		t.Fatalf("expected explicit price max to win, got %s", preferences.PriceMax.Decimal)
	}
	if !preferences.PriceMin.Decimal.Equal(decimal.NewFromInt(400000)) {
		t.Fatalf("expected derived price min to survive, got %s", preferences.PriceMin.Decimal)
	}
	if preferences.City != "Taguatinga" {
		t.Fatalf("expected explicit city, got %q", preferences.City)
	}
	if preferences.Category != "casa" {
		t.Fatalf("expected blank override to keep derived category, got %q", preferences.Category)
	}
	if *preferences.MinBedrooms != 4 {
		t.Fatalf("expected explicit bedrooms, got %d", *preferences.MinBedrooms)
	}
}

func TestBuildPreferencesMatchingFlag(t *testing.T) {
	testCases := []struct {
		name      string
		snapshot  *listings.Property
		overrides Overrides
		want      bool
	}{
		{name: "derived criteria enable matching", snapshot: sampleProperty(), want: true},
		{name: "explicit criteria enable matching", overrides: Overrides{City: stringPtr("Guará")}, want: true},
		{name: "no criteria keeps matching off", want: false},
		{name: "explicit opt out wins", snapshot: sampleProperty(), overrides: Overrides{MatchingEnabled: boolPtr(false)}, want: false},
		{name: "inverted price range alone keeps matching off", overrides: Overrides{PriceMin: decimalPtr(900000), PriceMax: decimalPtr(100000)}, want: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, enabled := BuildPreferences(testCase.snapshot, testCase.overrides)
			if enabled != testCase.want {
				t.Fatalf("expected matching enabled %v, got %v", testCase.want, enabled)
			}
		})
	}
}

func TestBuildPreferencesDropsInvertedPriceRange(t *testing.T) {
	preferences, enabled := BuildPreferences(sampleProperty(), Overrides{PriceMin: decimalPtr(900000)})
	if preferences.PriceMin.Valid || preferences.PriceMax.Valid {
		t.Fatalf("expected both bounds dropped, got %v..%v", preferences.PriceMin, preferences.PriceMax)
	}
	if !enabled || preferences.City == "" {
		t.Fatalf("expected derived criteria to keep matching on, got %+v", preferences)
	}
}

func decimalPtr(value int64) *decimal.Decimal {
	amount := decimal.NewFromInt(value)
	return &amount
}

func boolPtr(value bool) *bool {
	return &value
}

func TestContactValidate(t *testing.T) {
	if _, err := (Contact{Name: " ", Phone: "61999990000"}).Validate(); !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected missing name error, got %v", err)
	}
	if _, err := (Contact{Name: "Ana"}).Validate(); !errors.Is(err, ErrMissingContact) {
		t.Fatalf("expected missing contact error, got %v", err)
	}
	contact, err := (Contact{Name: " Ana ", Email: " ana@example.com "}).Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.Name != "Ana" || contact.Email != "ana@example.com" {
		t.Fatalf("expected trimmed contact, got %+v", contact)
	}
}

func TestLeadIsMatchable(t *testing.T) {
	lead := Lead{Phone: "61999990000", Status: StatusNew, MatchingEnabled: true}
	if !lead.IsMatchable() {
		t.Fatalf("expected lead to be matchable")
	}
	lead.Status = StatusClosed
	if lead.IsMatchable() {
		t.Fatalf("expected closed lead to be skipped")
	}
	lead.Status = StatusContacted
	lead.Phone = ""
	if lead.IsMatchable() {
		t.Fatalf("expected lead without phone to be skipped")
	}
}

func TestSubscriberKey(t *testing.T) {
	key, err := SubscriberKey(stringPtr("lead-1"), "")
	if err != nil || key != "lead:lead-1" {
		t.Fatalf("unexpected lead key %q (%v)", key, err)
	}
	key, err = SubscriberKey(nil, "(61) 99690-0444")
	if err != nil || key != "phone:5561996900444" {
		t.Fatalf("unexpected phone key %q (%v)", key, err)
	}
	key, err = SubscriberKey(stringPtr("lead-1"), "61 99690-0444")
	if err != nil || key != "phone:5561996900444" {
		t.Fatalf("expected the phone to win over the lead id, got %q (%v)", key, err)
	}
	if _, err := SubscriberKey(stringPtr(" "), "abc"); !errors.Is(err, ErrMissingSubscriber) {
		t.Fatalf("expected missing subscriber error, got %v", err)
	}
}
