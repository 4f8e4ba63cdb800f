package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/config"
	"github.com/dcruzimoveis/leadmatch/internal/database"
	"github.com/dcruzimoveis/leadmatch/internal/engine"
	"github.com/dcruzimoveis/leadmatch/internal/geocode"
	"github.com/dcruzimoveis/leadmatch/internal/ids"
	"github.com/dcruzimoveis/leadmatch/internal/logging"
	"github.com/dcruzimoveis/leadmatch/internal/media"
	"github.com/dcruzimoveis/leadmatch/internal/metrics"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"github.com/dcruzimoveis/leadmatch/internal/whatsapp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const redisPingTimeout = 3 * time.Second

// application holds the wired engine and the resources it owns.
type application struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	service *engine.Service
	closers []func() error
}

func newApplication(ctx context.Context, appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}
	app := &application{logger: logger, metrics: metrics.NewCollector(true)}

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	idProvider := ids.NewUUIDProvider()
	ledger, err := notify.NewGormLedger(notify.GormLedgerConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		app.Close()
		return nil, err
	}
	gateway, err := newGateway(appConfig.Messaging, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	dispatcher, err := notify.NewDispatcher(notify.Config{
		Ledger:      ledger,
		Gateway:     gateway,
		Logger:      logger,
		Observer:    app.metrics,
		Concurrency: appConfig.Dispatch.Concurrency,
		Attempts:    appConfig.Dispatch.Attempts,
		SendTimeout: appConfig.Dispatch.SendTimeout,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	geocoder, err := app.newGeocoder(ctx, appConfig, db)
	if err != nil {
		app.Close()
		return nil, err
	}

	serviceConfig := engine.ServiceConfig{
		Repository:        engine.NewGormRepository(db, time.Now),
		Dispatcher:        dispatcher,
		Geocoder:          geocoder,
		Observer:          app.metrics,
		IDProvider:        idProvider,
		Logger:            logger,
		SiteURL:           appConfig.SiteURL,
		AdminPhone:        appConfig.Messaging.AdminPhone,
		Agency:            appConfig.Agency,
		AutoMatchOnCreate: appConfig.AutoMatchOnCreate,
	}
	if resolver, err := newImageResolver(ctx, appConfig.Media); err != nil {
		app.Close()
		return nil, err
	} else if resolver != nil {
		serviceConfig.ImageResolver = resolver
	}

	service, err := engine.NewService(serviceConfig)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.service = service
	return app, nil
}

// Close releases owned resources and flushes the logger.
func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func newGateway(cfg config.MessagingConfig, logger *zap.Logger) (notify.Gateway, error) {
	switch cfg.Provider {
	case config.ProviderUltraMsg:
		return whatsapp.NewUltraMsgGateway(whatsapp.UltraMsgConfig{
			InstanceID: cfg.UltraMsgInstance,
			Token:      cfg.UltraMsgToken,
			BaseURL:    cfg.UltraMsgBaseURL,
		})
	case config.ProviderTwilio:
		return whatsapp.NewTwilioGateway(whatsapp.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			BaseURL:    cfg.TwilioBaseURL,
		})
	case config.ProviderLog:
		return whatsapp.NewLogGateway(logger), nil
	default:
		return nil, fmt.Errorf("unsupported messaging provider %q", cfg.Provider)
	}
}

func (a *application) newGeocoder(ctx context.Context, appConfig config.AppConfig, db *gorm.DB) (*geocode.Resolver, error) {
	var store geocode.Store = geocode.NewGormStore(db)
	if appConfig.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.Redis.Address,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.logger.Warn("redis unavailable, geocode cache uses the database only",
				zap.String("address", appConfig.Redis.Address), zap.Error(err))
			_ = client.Close()
		} else {
			a.closers = append(a.closers, client.Close)
			store = geocode.NewTieredStore(geocode.NewRedisStore(client, appConfig.Geocode.CacheTTL), store, a.logger)
		}
	}

	provider := geocode.NewOpenDataProvider(geocode.OpenDataConfig{
		ViaCEPBaseURL:     appConfig.Geocode.ViaCEPBaseURL,
		NominatimBaseURL:  appConfig.Geocode.NominatimBaseURL,
		UserAgent:         appConfig.Geocode.UserAgent,
		RequestsPerSecond: appConfig.Geocode.RequestsPerSecond,
		HTTPClient:        &http.Client{Timeout: appConfig.Geocode.Timeout},
	})
	return geocode.NewResolver(geocode.ResolverConfig{
		Store:    store,
		Provider: provider,
		Logger:   a.logger,
		Observer: a.metrics,
		Timeout:  appConfig.Geocode.Timeout,
		TTL:      appConfig.Geocode.CacheTTL,
	})
}

func newImageResolver(ctx context.Context, cfg config.MediaConfig) (*media.Resolver, error) {
	resolverConfig := media.Config{PublicBaseURL: cfg.PublicBaseURL, TTL: cfg.PresignTTL}
	if cfg.Bucket != "" {
		presigner, err := media.NewS3Presigner(ctx, media.S3Config{
			Endpoint:     cfg.Endpoint,
			Region:       cfg.Region,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		resolverConfig.Presigner = presigner
		resolverConfig.Bucket = cfg.Bucket
	}
	if resolverConfig.Presigner == nil && resolverConfig.PublicBaseURL == "" {
		return nil, nil
	}
	return media.NewResolver(resolverConfig), nil
}
