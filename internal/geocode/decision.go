// Package geocode resolves Brazilian postal codes (CEP) to coordinates without ever
// overriding coordinates an operator entered by hand.
package geocode

import "strings"

// Decision is the outcome of the precedence rules for one listing update.
type Decision string

const (
	// DecisionManual means the caller supplied both coordinates; they are kept verbatim.
	DecisionManual Decision = "manual_supplied"
	// DecisionAuto means the CEP changed or the listing has no coordinates yet.
	DecisionAuto Decision = "auto_needed"
	// DecisionSkipped means the CEP is unchanged and coordinates exist.
	DecisionSkipped Decision = "auto_skipped"
	// DecisionNoPostalCode means there is nothing to resolve.
	DecisionNoPostalCode Decision = "no_postal_code"
)

// Source tells where the returned coordinates came from.
type Source string

const (
	SourceManual   Source = "manual"
	SourceCache    Source = "cache"
	SourceProvider Source = "provider"
	SourceExisting Source = "existing"
)

// Coordinates is a resolved position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Stored is what the listing holds before the update.
type Stored struct {
	PostalCode string
	Latitude   *float64
	Longitude  *float64
}

// Request is one create or update of a listing's location fields.
type Request struct {
	PostalCode string
	Latitude   *float64
	Longitude  *float64
	Stored     Stored
}

// Result carries the coordinates to persist.
type Result struct {
	PostalCode string
	Latitude   *float64
	Longitude  *float64
	Decision   Decision
	Source     Source
}

// NormalizePostalCode keeps the digits of a CEP.
func NormalizePostalCode(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

// Decide applies the precedence rules.
func Decide(request Request) Decision {
	if request.Latitude != nil && request.Longitude != nil {
		return DecisionManual
	}
	postalCode := NormalizePostalCode(request.PostalCode)
	if postalCode == "" {
		return DecisionNoPostalCode
	}
	postalCodeChanged := postalCode != NormalizePostalCode(request.Stored.PostalCode)
	missingCoordinates := request.Stored.Latitude == nil || request.Stored.Longitude == nil
	if postalCodeChanged || missingCoordinates {
		return DecisionAuto
	}
	return DecisionSkipped
}
