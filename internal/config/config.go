package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "LEADMATCH"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseType   = "sqlite"
	defaultDatabasePath   = "leadmatch.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultProvider       = "log"
	defaultSiteURL        = "https://dcruzimoveis.com.br"
	defaultAgency         = "D Cruz Imóveis DF"
	defaultAdminIssuer    = "leadmatch"
	defaultConcurrency    = 5
	defaultAttempts       = 2
	defaultSendTimeout    = 15 * time.Second
	defaultGeocodeTTL     = 180 * 24 * time.Hour
	defaultGeocodeTimeout = 15 * time.Second
	defaultPresignTTL     = 24 * time.Hour
)

// Messaging providers.
const (
	ProviderLog      = "log"
	ProviderUltraMsg = "ultramsg"
	ProviderTwilio   = "twilio"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	AdminSigningKey string
	AdminIssuer     string

	SiteURL           string
	Agency            string
	AutoMatchOnCreate bool

	Messaging MessagingConfig
	Dispatch  DispatchConfig
	Geocode   GeocodeConfig
	Redis     RedisConfig
	Media     MediaConfig
}

// MessagingConfig selects and configures the WhatsApp provider.
type MessagingConfig struct {
	Provider         string
	AdminPhone       string
	UltraMsgInstance string
	UltraMsgToken    string
	UltraMsgBaseURL  string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string
}

// DispatchConfig bounds notification fan-out.
type DispatchConfig struct {
	Concurrency int
	Attempts    int
	SendTimeout time.Duration
}

// GeocodeConfig configures the CEP resolver.
type GeocodeConfig struct {
	ViaCEPBaseURL     string
	NominatimBaseURL  string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
	CacheTTL          time.Duration
}

// RedisConfig enables the hot geocode cache tier when Address is set.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// MediaConfig resolves listing image keys to URLs.
type MediaConfig struct {
	Bucket        string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	PresignTTL    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", defaultDatabaseType)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("admin.signing_secret", "")
	configViper.SetDefault("admin.issuer", defaultAdminIssuer)
	configViper.SetDefault("site.url", defaultSiteURL)
	configViper.SetDefault("site.agency", defaultAgency)
	configViper.SetDefault("matching.auto_on_create", false)

	configViper.SetDefault("messaging.provider", defaultProvider)
	configViper.SetDefault("messaging.admin_phone", "")
	configViper.SetDefault("messaging.ultramsg.instance_id", "")
	configViper.SetDefault("messaging.ultramsg.token", "")
	configViper.SetDefault("messaging.ultramsg.base_url", "")
	configViper.SetDefault("messaging.twilio.account_sid", "")
	configViper.SetDefault("messaging.twilio.auth_token", "")
	configViper.SetDefault("messaging.twilio.from_number", "")
	configViper.SetDefault("messaging.twilio.base_url", "")

	configViper.SetDefault("dispatch.concurrency", defaultConcurrency)
	configViper.SetDefault("dispatch.attempts", defaultAttempts)
	configViper.SetDefault("dispatch.timeout", defaultSendTimeout)

	configViper.SetDefault("geocode.viacep_url", "")
	configViper.SetDefault("geocode.nominatim_url", "")
	configViper.SetDefault("geocode.user_agent", "")
	configViper.SetDefault("geocode.requests_per_second", 1.0)
	configViper.SetDefault("geocode.timeout", defaultGeocodeTimeout)
	configViper.SetDefault("geocode.cache_ttl", defaultGeocodeTTL)

	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)

	configViper.SetDefault("media.bucket", "")
	configViper.SetDefault("media.endpoint", "")
	configViper.SetDefault("media.region", "")
	configViper.SetDefault("media.access_key", "")
	configViper.SetDefault("media.secret_key", "")
	configViper.SetDefault("media.public_base_url", "")
	configViper.SetDefault("media.presign_ttl", defaultPresignTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    splitList(configViper.GetString("http.allowed_origins")),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		AdminSigningKey:   configViper.GetString("admin.signing_secret"),
		AdminIssuer:       configViper.GetString("admin.issuer"),
		SiteURL:           configViper.GetString("site.url"),
		Agency:            configViper.GetString("site.agency"),
		AutoMatchOnCreate: configViper.GetBool("matching.auto_on_create"),
		Messaging: MessagingConfig{
			Provider:         strings.ToLower(strings.TrimSpace(configViper.GetString("messaging.provider"))),
			AdminPhone:       configViper.GetString("messaging.admin_phone"),
			UltraMsgInstance: configViper.GetString("messaging.ultramsg.instance_id"),
			UltraMsgToken:    configViper.GetString("messaging.ultramsg.token"),
			UltraMsgBaseURL:  configViper.GetString("messaging.ultramsg.base_url"),
			TwilioAccountSID: configViper.GetString("messaging.twilio.account_sid"),
			TwilioAuthToken:  configViper.GetString("messaging.twilio.auth_token"),
			TwilioFromNumber: configViper.GetString("messaging.twilio.from_number"),
			TwilioBaseURL:    configViper.GetString("messaging.twilio.base_url"),
		},
		Dispatch: DispatchConfig{
			Concurrency: configViper.GetInt("dispatch.concurrency"),
			Attempts:    configViper.GetInt("dispatch.attempts"),
			SendTimeout: configViper.GetDuration("dispatch.timeout"),
		},
		Geocode: GeocodeConfig{
			ViaCEPBaseURL:     configViper.GetString("geocode.viacep_url"),
			NominatimBaseURL:  configViper.GetString("geocode.nominatim_url"),
			UserAgent:         configViper.GetString("geocode.user_agent"),
			RequestsPerSecond: configViper.GetFloat64("geocode.requests_per_second"),
			Timeout:           configViper.GetDuration("geocode.timeout"),
			CacheTTL:          configViper.GetDuration("geocode.cache_ttl"),
		},
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
		},
		Media: MediaConfig{
			Bucket:        configViper.GetString("media.bucket"),
			Endpoint:      configViper.GetString("media.endpoint"),
			Region:        configViper.GetString("media.region"),
			AccessKey:     configViper.GetString("media.access_key"),
			SecretKey:     configViper.GetString("media.secret_key"),
			PublicBaseURL: configViper.GetString("media.public_base_url"),
			PresignTTL:    configViper.GetDuration("media.presign_ttl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AdminSigningKey) == "" {
		return fmt.Errorf("admin.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	switch c.Messaging.Provider {
	case ProviderLog:
	case ProviderUltraMsg:
		if strings.TrimSpace(c.Messaging.UltraMsgInstance) == "" || strings.TrimSpace(c.Messaging.UltraMsgToken) == "" {
			return fmt.Errorf("messaging.ultramsg.instance_id and messaging.ultramsg.token are required")
		}
	case ProviderTwilio:
		if strings.TrimSpace(c.Messaging.TwilioAccountSID) == "" ||
			strings.TrimSpace(c.Messaging.TwilioAuthToken) == "" ||
			strings.TrimSpace(c.Messaging.TwilioFromNumber) == "" {
			return fmt.Errorf("messaging.twilio.account_sid, auth_token and from_number are required")
		}
	default:
		return fmt.Errorf("unsupported messaging.provider %q", c.Messaging.Provider)
	}
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be positive")
	}
	if c.Dispatch.Attempts < 1 {
		return fmt.Errorf("dispatch.attempts must be positive")
	}
	if c.Media.Bucket != "" && (strings.TrimSpace(c.Media.AccessKey) == "" || strings.TrimSpace(c.Media.SecretKey) == "") {
		return fmt.Errorf("media.access_key and media.secret_key are required with media.bucket")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
