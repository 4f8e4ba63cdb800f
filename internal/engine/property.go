package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/geocode"
	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	triggerManual   = "manual"
	triggerOnCreate = "on_create"
)

// PropertyInput carries the editable listing fields. An empty ID creates a listing.
type PropertyInput struct {
	ID          string
	Title       string
	Category    string
	ListingType string
	Status      string
	Price       decimal.Decimal
	City        string
	State       string
	Bedrooms    int
	Bathrooms   int
	PostalCode  string
	Latitude    *float64
	Longitude   *float64
	GPSAccuracy *float64
	Images      []string
}

// PropertyResult reports what an upsert changed and who was told.
type PropertyResult struct {
	Property      listings.Property
	Created       bool
	PriceChange   *listings.PriceChange
	Geocode       geocode.Result
	Notifications []notify.Outcome
}

func (in PropertyInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title is required")
	}
	if !in.Price.IsPositive() {
		return errors.New("price must be positive")
	}
	if in.Bedrooms < 0 || in.Bathrooms < 0 {
		return errors.New("room counts must not be negative")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return errors.New("latitude and longitude must be given together")
	}
	switch listings.ListingType(strings.TrimSpace(in.ListingType)) {
	case "", listings.ListingTypeSale, listings.ListingTypeRent:
	default:
		return errors.New("listing type must be venda or aluguel")
	}
	return nil
}

// UpsertProperty geocodes, detects price reductions on update, persists the listing and
// then tells price alert subscribers. Geocoding runs before and notifications after the
// write transaction; neither can fail the write.
func (s *Service) UpsertProperty(ctx context.Context, input PropertyInput) (PropertyResult, error) {
	if err := input.validate(); err != nil {
		return PropertyResult{}, invalid(opUpsertProperty, "invalid_property", err)
	}
	if strings.TrimSpace(input.ID) == "" {
		return s.createProperty(ctx, input)
	}
	return s.updateProperty(ctx, input)
}

func (s *Service) createProperty(ctx context.Context, input PropertyInput) (PropertyResult, error) {
	propertyID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpsertProperty, "id_generation_failed", err)
		return PropertyResult{}, newServiceError(ErrPersistence, opUpsertProperty, "id_generation_failed", err)
	}

	located := s.locate(ctx, input, geocode.Stored{})
	property := listings.Property{ID: propertyID}
	applyInput(&property, input, located)
	property.Price = input.Price
	property.EnsureSlug()

	if err := s.repository.CreateProperty(ctx, &property); err != nil {
		return PropertyResult{}, s.fail(opUpsertProperty, "property_insert_failed", err, zap.String("property_id", propertyID))
	}

	result := PropertyResult{Property: property, Created: true, Geocode: located}
	if s.autoMatchOnCreate && property.Status == listings.StatusAvailable {
		outcomes, err := s.matchAndNotify(ctx, property, triggerOnCreate)
		if err != nil {
			s.loggerOrDefault().Warn("automatic match failed", zap.String("property_id", property.ID), zap.Error(err))
		}
		result.Notifications = outcomes
	}
	return result, nil
}

func (s *Service) updateProperty(ctx context.Context, input PropertyInput) (PropertyResult, error) {
	propertyID := strings.TrimSpace(input.ID)
	current, err := s.repository.FindProperty(ctx, propertyID)
	if err != nil {
		return PropertyResult{}, s.fail(opUpsertProperty, "property_lookup_failed", err, zap.String("property_id", propertyID))
	}

	located := s.locate(ctx, input, geocode.Stored{
		PostalCode: current.PostalCode,
		Latitude:   current.Latitude,
		Longitude:  current.Longitude,
	})

	var change listings.PriceChange
	updated, err := s.repository.UpdateProperty(ctx, propertyID, func(property *listings.Property) error {
		change = listings.DetectPriceChange(property.PriceState(), input.Price, s.clock())
		applyInput(property, input, located)
		property.ApplyPriceChange(change)
		property.EnsureSlug()
		return nil
	})
	if err != nil {
		return PropertyResult{}, s.fail(opUpsertProperty, "property_update_failed", err, zap.String("property_id", propertyID))
	}

	result := PropertyResult{Property: updated, PriceChange: &change, Geocode: located}
	if change.ReductionOccurred {
		if s.observer != nil {
			s.observer.ObservePriceReduction()
		}
		s.loggerOrDefault().Info("price reduced",
			zap.String("property_id", updated.ID),
			zap.String("old_price", change.OldPrice.String()),
			zap.String("new_price", change.Price.String()),
		)
		result.Notifications = s.notifyPriceReduction(ctx, updated, change)
	}
	return result, nil
}

func (s *Service) locate(ctx context.Context, input PropertyInput, stored geocode.Stored) geocode.Result {
	request := geocode.Request{
		PostalCode: input.PostalCode,
		Latitude:   input.Latitude,
		Longitude:  input.Longitude,
		Stored:     stored,
	}
	if s.geocoder == nil {
		if request.Latitude != nil && request.Longitude != nil {
			return geocode.Result{
				PostalCode: geocode.NormalizePostalCode(input.PostalCode),
				Latitude:   input.Latitude,
				Longitude:  input.Longitude,
				Decision:   geocode.DecisionManual,
				Source:     geocode.SourceManual,
			}
		}
		return geocode.Result{
			PostalCode: geocode.NormalizePostalCode(input.PostalCode),
			Latitude:   stored.Latitude,
			Longitude:  stored.Longitude,
			Decision:   geocode.Decide(request),
			Source:     geocode.SourceExisting,
		}
	}
	return s.geocoder.Apply(ctx, request)
}

func applyInput(property *listings.Property, input PropertyInput, located geocode.Result) {
	property.Title = strings.TrimSpace(input.Title)
	property.Category = strings.TrimSpace(input.Category)
	property.ListingType = strings.TrimSpace(input.ListingType)
	property.Status = strings.TrimSpace(input.Status)
	if property.Status == "" {
		property.Status = listings.StatusAvailable
	}
	property.City = strings.TrimSpace(input.City)
	property.State = strings.TrimSpace(input.State)
	property.Bedrooms = input.Bedrooms
	property.Bathrooms = input.Bathrooms
	property.PostalCode = located.PostalCode
	property.Latitude = located.Latitude
	property.Longitude = located.Longitude
	if located.Source == geocode.SourceManual {
		property.GPSAccuracy = input.GPSAccuracy
	} else if located.Source == geocode.SourceProvider || located.Source == geocode.SourceCache {
		property.GPSAccuracy = nil
	}
	property.SetImages(input.Images)
}

func (s *Service) notifyPriceReduction(ctx context.Context, property listings.Property, change listings.PriceChange) []notify.Outcome {
	subscriptions, err := s.repository.ListActiveSubscriptions(ctx, property.ID)
	if err != nil {
		s.loggerOrDefault().Warn("price alert subscribers not loaded",
			zap.String("property_id", property.ID),
			zap.Error(err))
		return nil
	}
	if len(subscriptions) == 0 {
		return nil
	}

	imageURL := s.imageURL(ctx, property)
	notifications := make([]notify.Notification, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		notification, err := s.priceReductionNotification(property, change, subscription, imageURL)
		if err != nil {
			s.loggerOrDefault().Warn("price reduction message not rendered",
				zap.String("subscription_id", subscription.ID),
				zap.Error(err))
			continue
		}
		notifications = append(notifications, notification)
	}

	outcomes := s.dispatcher.DispatchAll(ctx, notifications)
	summary := notify.Summarize(outcomes)
	s.loggerOrDefault().Info("price reduction dispatched",
		zap.String("property_id", property.ID),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return outcomes
}

func (s *Service) priceReductionNotification(property listings.Property, change listings.PriceChange, subscription leads.PriceAlertSubscription, imageURL string) (notify.Notification, error) {
	text, err := notify.RenderPriceReduction(notify.PriceReductionMessage{
		Name:        subscription.Name,
		Title:       property.Title,
		OldPrice:    change.OldPrice,
		NewPrice:    change.Price,
		Savings:     change.Savings(),
		PropertyURL: s.propertyURL(property),
	})
	if err != nil {
		return notify.Notification{}, err
	}
	return notify.Notification{
		Kind: notify.KindPriceReduction,
		Recipient: notify.Recipient{
			Key:   subscription.RecipientKey(),
			Name:  subscription.Name,
			Phone: subscription.Phone,
		},
		PropertyID: property.ID,
		Price:      decimal.NewNullDecimal(change.Price),
		Text:       text,
		ImageURL:   imageURL,
	}, nil
}
