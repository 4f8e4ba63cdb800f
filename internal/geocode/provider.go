package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultViaCEPBaseURL    = "https://viacep.com.br"
	defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	defaultUserAgent        = "leadmatch-geocoder/1.0"
	defaultProviderTimeout  = 10 * time.Second
)

// Brazil bounding box; Nominatim answers outside it are treated as misses.
const (
	brazilMinLatitude  = -33.75
	brazilMaxLatitude  = 5.27
	brazilMinLongitude = -73.99
	brazilMaxLongitude = -28.84
)

var (
	// ErrNotFound indicates that the provider has no position for the CEP.
	ErrNotFound = errors.New("geocode: postal code not found")
	// ErrInvalidPostalCode indicates that the CEP does not have eight digits.
	ErrInvalidPostalCode = errors.New("geocode: postal code must have 8 digits")
)

// Provider resolves a normalized CEP to coordinates.
type Provider interface {
	Resolve(ctx context.Context, postalCode string) (Coordinates, error)
}

// OpenDataConfig configures the ViaCEP + Nominatim provider.
type OpenDataConfig struct {
	ViaCEPBaseURL    string
	NominatimBaseURL string
	UserAgent        string
	// RequestsPerSecond caps Nominatim calls. Zero applies the public usage policy of one per second.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// OpenDataProvider looks the CEP up on ViaCEP and geocodes the address on Nominatim.
type OpenDataProvider struct {
	viaCEPBaseURL    string
	nominatimBaseURL string
	userAgent        string
	client           *http.Client
	limiter          *rate.Limiter
}

// NewOpenDataProvider applies defaults to the configuration.
func NewOpenDataProvider(cfg OpenDataConfig) *OpenDataProvider {
	viaCEP := strings.TrimRight(strings.TrimSpace(cfg.ViaCEPBaseURL), "/")
	if viaCEP == "" {
		viaCEP = defaultViaCEPBaseURL
	}
	nominatim := strings.TrimRight(strings.TrimSpace(cfg.NominatimBaseURL), "/")
	if nominatim == "" {
		nominatim = defaultNominatimBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	perSecond := cfg.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultProviderTimeout}
	}
	return &OpenDataProvider{
		viaCEPBaseURL:    viaCEP,
		nominatimBaseURL: nominatim,
		userAgent:        userAgent,
		client:           client,
		limiter:          rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

type viaCEPAddress struct {
	Street       string          `json:"logradouro"`
	Neighborhood string          `json:"bairro"`
	City         string          `json:"localidade"`
	State        string          `json:"uf"`
	Error        json.RawMessage `json:"erro"`
}

type nominatimPlace struct {
	Latitude  string `json:"lat"`
	Longitude string `json:"lon"`
}

// Resolve tries the full address first, then drops the neighborhood, then falls back
// to the city.
func (p *OpenDataProvider) Resolve(ctx context.Context, postalCode string) (Coordinates, error) {
	if len(postalCode) != 8 {
		return Coordinates{}, ErrInvalidPostalCode
	}
	address, err := p.lookupAddress(ctx, postalCode)
	if err != nil {
		return Coordinates{}, err
	}

	for _, query := range searchQueries(address) {
		coordinates, found, err := p.search(ctx, query)
		if err != nil {
			return Coordinates{}, err
		}
		if found {
			return coordinates, nil
		}
	}
	return Coordinates{}, ErrNotFound
}

func (p *OpenDataProvider) lookupAddress(ctx context.Context, postalCode string) (viaCEPAddress, error) {
	endpoint := fmt.Sprintf("%s/ws/%s/json/", p.viaCEPBaseURL, postalCode)
	var address viaCEPAddress
	if err := p.getJSON(ctx, endpoint, &address); err != nil {
		return viaCEPAddress{}, err
	}
	flag := strings.Trim(strings.TrimSpace(string(address.Error)), `"`)
	if strings.EqualFold(flag, "true") || strings.TrimSpace(address.City) == "" {
		return viaCEPAddress{}, ErrNotFound
	}
	return address, nil
}

func (p *OpenDataProvider) search(ctx context.Context, query string) (Coordinates, bool, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Coordinates{}, false, err
	}
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("countrycodes", "br")
	params.Set("limit", "1")

	var places []nominatimPlace
	if err := p.getJSON(ctx, p.nominatimBaseURL+"/search?"+params.Encode(), &places); err != nil {
		return Coordinates{}, false, err
	}
	if len(places) == 0 {
		return Coordinates{}, false, nil
	}
	latitude, latErr := strconv.ParseFloat(places[0].Latitude, 64)
	longitude, lonErr := strconv.ParseFloat(places[0].Longitude, 64)
	if latErr != nil || lonErr != nil {
		return Coordinates{}, false, nil
	}
	if !WithinBrazil(latitude, longitude) {
		return Coordinates{}, false, nil
	}
	return Coordinates{Latitude: latitude, Longitude: longitude}, true, nil
}

func (p *OpenDataProvider) getJSON(ctx context.Context, endpoint string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	request.Header.Set("User-Agent", p.userAgent)
	request.Header.Set("Accept", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, response.Body)
		return fmt.Errorf("geocode: %s answered %d", request.URL.Host, response.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(target)
}

func searchQueries(address viaCEPAddress) []string {
	candidates := [][]string{
		{address.Street, address.Neighborhood, address.City, address.State, "Brasil"},
		{address.Street, address.City, address.State, "Brasil"},
		{address.City, address.State, "Brasil"},
	}
	queries := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, parts := range candidates {
		kept := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				kept = append(kept, trimmed)
			}
		}
		query := strings.Join(kept, ", ")
		if _, duplicate := seen[query]; duplicate {
			continue
		}
		seen[query] = struct{}{}
		queries = append(queries, query)
	}
	return queries
}

// WithinBrazil reports whether the position lies inside Brazil's bounding box.
func WithinBrazil(latitude, longitude float64) bool {
	return latitude >= brazilMinLatitude && latitude <= brazilMaxLatitude &&
		longitude >= brazilMinLongitude && longitude <= brazilMaxLongitude
}
