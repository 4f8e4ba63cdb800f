package listings

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

// ListingType distinguishes sale listings from rentals.
type ListingType string

const (
	// ListingTypeSale marks a property offered for sale.
	ListingTypeSale ListingType = "venda"
	// ListingTypeRent marks a property offered for rent.
	ListingTypeRent ListingType = "aluguel"
)

const (
	// StatusAvailable is the only status that takes part in lead suggestions.
	StatusAvailable = "disponivel"
	// StatusSold marks a listing that left the market.
	StatusSold = "vendido"
)

// Property is the listing record. Price bookkeeping columns are owned by ApplyPriceChange.
type Property struct {
	ID             string              `gorm:"column:id;primaryKey;size:64" json:"id"`
	Title          string              `gorm:"column:title;size:255;not null" json:"title"`
	Slug           string              `gorm:"column:slug;size:255;index" json:"slug"`
	Category       string              `gorm:"column:category;size:64;index" json:"category"`
	ListingType    string              `gorm:"column:listing_type;size:32" json:"listing_type"`
	Status         string              `gorm:"column:status;size:32;index;not null" json:"status"`
	Price          decimal.Decimal     `gorm:"column:price;type:decimal(14,2);not null" json:"price"`
	PreviousPrice  decimal.NullDecimal `gorm:"column:previous_price;type:decimal(14,2)" json:"previous_price"`
	PriceReduced   bool                `gorm:"column:price_reduced;not null" json:"price_reduced"`
	PriceReducedAt *time.Time          `gorm:"column:price_reduced_at" json:"price_reduced_at,omitempty"`
	City           string              `gorm:"column:city;size:128;index" json:"city"`
	State          string              `gorm:"column:state;size:8" json:"state"`
	Bedrooms       int                 `gorm:"column:bedrooms;not null" json:"bedrooms"`
	Bathrooms      int                 `gorm:"column:bathrooms;not null" json:"bathrooms"`
	PostalCode     string              `gorm:"column:postal_code;size:16" json:"postal_code"`
	Latitude       *float64            `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude      *float64            `gorm:"column:longitude" json:"longitude,omitempty"`
	GPSAccuracy    *float64            `gorm:"column:gps_accuracy" json:"gps_accuracy,omitempty"`
	ImagesJSON     string              `gorm:"column:images;type:text" json:"-"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing listings.
func (Property) TableName() string {
	return "properties"
}

// Images decodes the stored image list. Malformed payloads yield an empty list.
func (p Property) Images() []string {
	if strings.TrimSpace(p.ImagesJSON) == "" {
		return nil
	}
	var images []string
	if err := json.Unmarshal([]byte(p.ImagesJSON), &images); err != nil {
		return nil
	}
	return images
}

// SetImages stores the image list, dropping blank entries.
func (p *Property) SetImages(images []string) {
	cleaned := make([]string, 0, len(images))
	for _, image := range images {
		if trimmed := strings.TrimSpace(image); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		p.ImagesJSON = ""
		return
	}
	encoded, _ := json.Marshal(cleaned)
	p.ImagesJSON = string(encoded)
}

// PrimaryImage returns the first listed image, the one used as the cover photo.
func (p Property) PrimaryImage() string {
	images := p.Images()
	if len(images) == 0 {
		return ""
	}
	return images[0]
}

// HasCoordinates reports whether both coordinates are stored.
func (p Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// EnsureSlug derives the public slug from the title when none is set.
// The id suffix keeps slugs unique across listings sharing a title.
func (p *Property) EnsureSlug() {
	if strings.TrimSpace(p.Slug) != "" {
		return
	}
	base := slug.Make(p.Title)
	suffix := p.ID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	switch {
	case base == "":
		p.Slug = suffix
	case suffix == "":
		p.Slug = base
	default:
		p.Slug = base + "-" + suffix
	}
}
