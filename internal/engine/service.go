// Package engine orchestrates lead intake, listing changes, matching and the
// notifications they trigger.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/geocode"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/media"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"go.uber.org/zap"
)

const defaultAgency = "D Cruz Imóveis DF"

var (
	errMissingRepository = errors.New("repository is required")
	errMissingDispatcher = errors.New("dispatcher is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// Dispatcher sends notifications at most once each.
type Dispatcher interface {
	Dispatch(ctx context.Context, notification notify.Notification) notify.Outcome
	DispatchAll(ctx context.Context, notifications []notify.Notification) []notify.Outcome
}

// Geocoder decides which coordinates a listing keeps.
type Geocoder interface {
	Apply(ctx context.Context, request geocode.Request) geocode.Result
}

// ImageResolver turns a stored image reference into a fetchable URL.
type ImageResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// Observer receives engine level events.
type Observer interface {
	ObservePriceReduction()
	ObserveMatchRun(trigger string)
}

type ServiceConfig struct {
	Repository    Repository
	Dispatcher    Dispatcher
	Geocoder      Geocoder
	ImageResolver ImageResolver
	Observer      Observer
	Clock         func() time.Time
	IDProvider    IDProvider
	Logger        *zap.Logger
	// SiteURL prefixes listing and opt-out links in outgoing messages.
	SiteURL string
	// AdminPhone receives new lead alerts; empty disables them.
	AdminPhone string
	Agency     string
	// AutoMatchOnCreate runs the match dispatch for every new listing.
	AutoMatchOnCreate bool
}

type Service struct {
	repository        Repository
	dispatcher        Dispatcher
	geocoder          Geocoder
	images            ImageResolver
	observer          Observer
	clock             func() time.Time
	idProvider        IDProvider
	logger            *zap.Logger
	siteURL           string
	adminPhone        string
	agency            string
	autoMatchOnCreate bool
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(nil, opServiceNew, "missing_repository", errMissingRepository)
	}
	if cfg.Dispatcher == nil {
		return nil, newServiceError(nil, opServiceNew, "missing_dispatcher", errMissingDispatcher)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(nil, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	agency := strings.TrimSpace(cfg.Agency)
	if agency == "" {
		agency = defaultAgency
	}

	return &Service{
		repository:        cfg.Repository,
		dispatcher:        cfg.Dispatcher,
		geocoder:          cfg.Geocoder,
		images:            cfg.ImageResolver,
		observer:          cfg.Observer,
		clock:             clock,
		idProvider:        cfg.IDProvider,
		logger:            logger,
		siteURL:           strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/"),
		adminPhone:        strings.TrimSpace(cfg.AdminPhone),
		agency:            agency,
		autoMatchOnCreate: cfg.AutoMatchOnCreate,
	}, nil
}

func (s *Service) propertyURL(property listings.Property) string {
	return s.siteURL + "/imovel/" + property.Slug
}

func (s *Service) optOutURL(leadID string) string {
	return s.siteURL + "/opt-out/" + leadID
}

// imageURL resolves the primary listing image. Messages go out without an image when
// it cannot be resolved.
func (s *Service) imageURL(ctx context.Context, property listings.Property) string {
	reference := property.PrimaryImage()
	if reference == "" {
		return ""
	}
	if s.images == nil {
		if media.IsAbsoluteURL(reference) {
			return reference
		}
		return ""
	}
	resolved, err := s.images.Resolve(ctx, reference)
	if err != nil {
		s.loggerOrDefault().Warn("listing image not resolved",
			zap.String("property_id", property.ID),
			zap.Error(err))
		return ""
	}
	return resolved
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("engine service error", attrs...)
}

// fail logs and wraps a storage failure, mapping missing rows to ErrNotFound.
func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrRecordNotFound) {
		return newServiceError(ErrNotFound, operation, "not_found", err)
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	s.logError(operation, reason, err, fields...)
	return newServiceError(ErrPersistence, operation, reason, err)
}

func invalid(operation, reason string, cause error) error {
	return newServiceError(ErrValidation, operation, reason, cause)
}
