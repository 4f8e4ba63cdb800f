package geocode

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultResolveTimeout = 15 * time.Second

var (
	errMissingStore    = errors.New("geocode store is required")
	errMissingProvider = errors.New("geocode provider is required")
)

// Observer receives one call per resolution attempt.
type Observer interface {
	ObserveGeocode(decision string, source string)
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	Store    Store
	Provider Provider
	Clock    func() time.Time
	Logger   *zap.Logger
	Observer Observer
	// Timeout bounds one provider resolution.
	Timeout time.Duration
	// TTL expires cache entries; zero keeps them forever.
	TTL time.Duration
}

// Resolver applies the precedence rules and resolves CEPs through the cache.
type Resolver struct {
	store    Store
	provider Provider
	clock    func() time.Time
	logger   *zap.Logger
	observer Observer
	timeout  time.Duration
	ttl      time.Duration
}

// NewResolver validates the configuration.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	return &Resolver{
		store:    cfg.Store,
		provider: cfg.Provider,
		clock:    clock,
		logger:   logger,
		observer: cfg.Observer,
		timeout:  timeout,
		ttl:      cfg.TTL,
	}, nil
}

// Apply returns the coordinates to persist for the request. Provider and cache
// failures fall back to the stored coordinates; Apply never fails.
func (r *Resolver) Apply(ctx context.Context, request Request) Result {
	decision := Decide(request)
	postalCode := NormalizePostalCode(request.PostalCode)
	existing := Result{
		PostalCode: postalCode,
		Latitude:   request.Stored.Latitude,
		Longitude:  request.Stored.Longitude,
		Decision:   decision,
		Source:     SourceExisting,
	}

	switch decision {
	case DecisionManual:
		latitude, longitude := *request.Latitude, *request.Longitude
		return r.observe(Result{
			PostalCode: postalCode,
			Latitude:   &latitude,
			Longitude:  &longitude,
			Decision:   decision,
			Source:     SourceManual,
		})
	case DecisionAuto:
		coordinates, source, ok := r.resolve(ctx, postalCode)
		if !ok {
			return r.observe(existing)
		}
		latitude, longitude := coordinates.Latitude, coordinates.Longitude
		return r.observe(Result{
			PostalCode: postalCode,
			Latitude:   &latitude,
			Longitude:  &longitude,
			Decision:   decision,
			Source:     source,
		})
	default:
		return r.observe(existing)
	}
}

func (r *Resolver) resolve(ctx context.Context, postalCode string) (Coordinates, Source, bool) {
	if len(postalCode) != 8 {
		r.logger.Warn("geocode skipped invalid postal code", zap.String("postal_code", postalCode))
		return Coordinates{}, "", false
	}

	entry, err := r.store.Lookup(ctx, postalCode)
	if err != nil {
		r.logger.Warn("geocode cache lookup failed", zap.String("postal_code", postalCode), zap.Error(err))
	} else if entry != nil && r.fresh(*entry) {
		return entry.Coordinates(), SourceCache, true
	}

	if ctx.Err() != nil {
		return Coordinates{}, "", false
	}

	// A started resolution completes even if the caller goes away, so its result is cached.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	coordinates, err := r.provider.Resolve(callCtx, postalCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPostalCode) {
			r.logger.Info("geocode found no position", zap.String("postal_code", postalCode), zap.Error(err))
		} else {
			r.logger.Warn("geocode provider failed", zap.String("postal_code", postalCode), zap.Error(err))
		}
		return Coordinates{}, "", false
	}

	saveErr := r.store.Save(callCtx, CacheEntry{
		PostalCode: postalCode,
		Latitude:   coordinates.Latitude,
		Longitude:  coordinates.Longitude,
		Source:     string(SourceProvider),
		ResolvedAt: r.clock().UTC(),
	})
	if saveErr != nil {
		r.logger.Warn("geocode cache write failed", zap.String("postal_code", postalCode), zap.Error(saveErr))
	}
	return coordinates, SourceProvider, true
}

func (r *Resolver) fresh(entry CacheEntry) bool {
	if r.ttl <= 0 {
		return true
	}
	return r.clock().Sub(entry.ResolvedAt) < r.ttl
}

func (r *Resolver) observe(result Result) Result {
	if r.observer != nil {
		r.observer.ObserveGeocode(string(result.Decision), string(result.Source))
	}
	return result
}
