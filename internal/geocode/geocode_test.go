package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func floatPtr(value float64) *float64 {
	return &value
}

type fakeProvider struct {
	mu          sync.Mutex
	calls       []string
	coordinates Coordinates
	err         error
}

func (p *fakeProvider) Resolve(_ context.Context, postalCode string) (Coordinates, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, postalCode)
	return p.coordinates, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (*CacheEntry, error) {
	return nil, errors.New("store offline")
}

func (failingStore) Save(context.Context, CacheEntry) error {
	return errors.New("store offline")
}

func openCacheDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:geocode_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&CacheEntry{}))
	return db
}

func newTestResolver(t *testing.T, store Store, provider Provider, clock func() time.Time, ttl time.Duration) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverConfig{Store: store, Provider: provider, Clock: clock, TTL: ttl, Timeout: time.Second})
	require.NoError(t, err)
	return resolver
}

func TestDecide(t *testing.T) {
	stored := Stored{PostalCode: "70000-000", Latitude: floatPtr(-15.79), Longitude: floatPtr(-47.88)}
	testCases := []struct {
		name    string
		request Request
		want    Decision
	}{
		{
			name:    "manual coordinates win over a changed cep",
			request: Request{PostalCode: "71000000", Latitude: floatPtr(-15.8), Longitude: floatPtr(-47.9), Stored: stored},
			want:    DecisionManual,
		},
		{
			name:    "changed cep",
			request: Request{PostalCode: "71000-000", Stored: stored},
			want:    DecisionAuto,
		},
		{
			name:    "missing coordinates",
			request: Request{PostalCode: "70000000", Stored: Stored{PostalCode: "70000000"}},
			want:    DecisionAuto,
		},
		{
			name:    "unchanged cep with coordinates",
			request: Request{PostalCode: "70000000", Stored: stored},
			want:    DecisionSkipped,
		},
		{
			name:    "only one manual coordinate is not manual",
			request: Request{PostalCode: "70000000", Latitude: floatPtr(-15.8), Stored: stored},
			want:    DecisionSkipped,
		},
		{
			name:    "no cep",
			request: Request{Stored: stored},
			want:    DecisionNoPostalCode,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.want, Decide(testCase.request))
		})
	}
}

func TestResolverManualCoordinatesBypassProviderAndCache(t *testing.T) {
	db := openCacheDatabase(t)
	provider := &fakeProvider{coordinates: Coordinates{Latitude: -10, Longitude: -50}}
	resolver := newTestResolver(t, NewGormStore(db), provider, nil, 0)

	result := resolver.Apply(context.Background(), Request{
		PostalCode: "71000-000",
		Latitude:   floatPtr(-15.8),
		Longitude:  floatPtr(-47.9),
	})

	assert.Equal(t, DecisionManual, result.Decision)
	assert.Equal(t, SourceManual, result.Source)
	assert.Equal(t, -15.8, *result.Latitude)
	assert.Equal(t, -47.9, *result.Longitude)
	assert.Zero(t, provider.callCount())

	var cached int64
	require.NoError(t, db.Model(&CacheEntry{}).Count(&cached).Error)
	assert.Zero(t, cached)
}

func TestResolverUnchangedPostalCodeMakesNoProviderCall(t *testing.T) {
	provider := &fakeProvider{}
	resolver := newTestResolver(t, NewGormStore(openCacheDatabase(t)), provider, nil, 0)

	result := resolver.Apply(context.Background(), Request{
		PostalCode: "70000000",
		Stored:     Stored{PostalCode: "70000-000", Latitude: floatPtr(-15.79), Longitude: floatPtr(-47.88)},
	})

	assert.Equal(t, DecisionSkipped, result.Decision)
	assert.Equal(t, -15.79, *result.Latitude)
	assert.Zero(t, provider.callCount())
}

func TestResolverCachesProviderResultByPostalCode(t *testing.T) {
	db := openCacheDatabase(t)
	provider := &fakeProvider{coordinates: Coordinates{Latitude: -15.83, Longitude: -47.86}}
	now := time.Unix(1700000000, 0).UTC()
	resolver := newTestResolver(t, NewGormStore(db), provider, func() time.Time { return now }, 0)

	first := resolver.Apply(context.Background(), Request{PostalCode: "71680-365"})
	second := resolver.Apply(context.Background(), Request{PostalCode: "71680365"})

	assert.Equal(t, SourceProvider, first.Source)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, -15.83, *second.Latitude)

	var entry CacheEntry
	require.NoError(t, db.Where("postal_code = ?", "71680365").Take(&entry).Error)
	assert.Equal(t, -47.86, entry.Longitude)
}

func TestResolverRefreshesExpiredEntries(t *testing.T) {
	db := openCacheDatabase(t)
	provider := &fakeProvider{coordinates: Coordinates{Latitude: -15.83, Longitude: -47.86}}
	now := time.Unix(1700000000, 0).UTC()
	resolver := newTestResolver(t, NewGormStore(db), provider, func() time.Time { return now }, 24*time.Hour)

	resolver.Apply(context.Background(), Request{PostalCode: "71680365"})
	now = now.Add(25 * time.Hour)
	result := resolver.Apply(context.Background(), Request{PostalCode: "71680365"})

	assert.Equal(t, SourceProvider, result.Source)
	assert.Equal(t, 2, provider.callCount())
}

func TestResolverProviderFailureKeepsStoredCoordinates(t *testing.T) {
	provider := &fakeProvider{err: errors.New("nominatim timeout")}
	resolver := newTestResolver(t, NewGormStore(openCacheDatabase(t)), provider, nil, 0)

	result := resolver.Apply(context.Background(), Request{
		PostalCode: "72000000",
		Stored:     Stored{PostalCode: "70000000", Latitude: floatPtr(-15.79), Longitude: floatPtr(-47.88)},
	})
	assert.Equal(t, DecisionAuto, result.Decision)
	assert.Equal(t, SourceExisting, result.Source)
	assert.Equal(t, -15.79, *result.Latitude)

	empty := resolver.Apply(context.Background(), Request{PostalCode: "72000000"})
	assert.Nil(t, empty.Latitude)
	assert.Nil(t, empty.Longitude)
}

func TestResolverSkipsInvalidPostalCodeAndCanceledContext(t *testing.T) {
	provider := &fakeProvider{coordinates: Coordinates{Latitude: -15.83, Longitude: -47.86}}
	resolver := newTestResolver(t, NewGormStore(openCacheDatabase(t)), provider, nil, 0)

	invalid := resolver.Apply(context.Background(), Request{PostalCode: "7168"})
	assert.Equal(t, SourceExisting, invalid.Source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	canceled := resolver.Apply(ctx, Request{PostalCode: "71680365"})
	assert.Equal(t, SourceExisting, canceled.Source)
	assert.Zero(t, provider.callCount())
}

func TestResolverSurvivesStoreOutage(t *testing.T) {
	provider := &fakeProvider{coordinates: Coordinates{Latitude: -15.83, Longitude: -47.86}}
	resolver := newTestResolver(t, failingStore{}, provider, nil, 0)

	result := resolver.Apply(context.Background(), Request{PostalCode: "71680365"})
	assert.Equal(t, SourceProvider, result.Source)
	assert.Equal(t, -15.83, *result.Latitude)
}

func TestTieredStoreFallsBackWhenRedisIsUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cold := NewGormStore(openCacheDatabase(t))
	store := NewTieredStore(NewRedisStore(client, time.Hour), cold, nil)
	entry := CacheEntry{PostalCode: "71680365", Latitude: -15.83, Longitude: -47.86, Source: "provider", ResolvedAt: time.Unix(1700000000, 0).UTC()}

	require.NoError(t, store.Save(context.Background(), entry))
	found, err := store.Lookup(context.Background(), "71680365")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, -47.86, found.Longitude)

	missing, err := store.Lookup(context.Background(), "00000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	reads   int
}

func (s *memoryStore) Lookup(_ context.Context, postalCode string) (*CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	entry, ok := s.entries[postalCode]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *memoryStore) Save(_ context.Context, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]CacheEntry{}
	}
	s.entries[entry.PostalCode] = entry
	return nil
}

func TestTieredStoreBackfillsHotTier(t *testing.T) {
	hot := &memoryStore{}
	cold := &memoryStore{entries: map[string]CacheEntry{"71680365": {PostalCode: "71680365", Latitude: -15.83}}}
	store := NewTieredStore(hot, cold, nil)

	_, err := store.Lookup(context.Background(), "71680365")
	require.NoError(t, err)
	_, err = store.Lookup(context.Background(), "71680365")
	require.NoError(t, err)

	assert.Equal(t, 1, cold.reads)
	assert.Contains(t, hot.entries, "71680365")
}

func newOpenDataServers(t *testing.T, nominatim http.HandlerFunc) (*OpenDataProvider, *[]string) {
	t.Helper()
	viaCEP := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ws/71680365/json/":
			_, _ = w.Write([]byte(`{"cep":"71680-365","logradouro":"SHIS QI 23","bairro":"Lago Sul","localidade":"Brasília","uf":"DF"}`))
		default:
			_, _ = w.Write([]byte(`{"erro":"true"}`))
		}
	}))
	t.Cleanup(viaCEP.Close)

	var queries []string
	var mu sync.Mutex
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		assert.Equal(t, "br", r.URL.Query().Get("countrycodes"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		nominatim(w, r)
	}))
	t.Cleanup(search.Close)

	provider := NewOpenDataProvider(OpenDataConfig{
		ViaCEPBaseURL:     viaCEP.URL,
		NominatimBaseURL:  search.URL,
		UserAgent:         "test-agent",
		RequestsPerSecond: 1000,
	})
	return provider, &queries
}

func TestOpenDataProviderFallsBackThroughQueryStrategies(t *testing.T) {
	provider, queries := newOpenDataServers(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Brasília, DF, Brasil" {
			_, _ = w.Write([]byte(`[{"lat":"-15.7939","lon":"-47.8828"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	coordinates, err := provider.Resolve(context.Background(), "71680365")
	require.NoError(t, err)
	assert.InDelta(t, -15.7939, coordinates.Latitude, 1e-9)
	assert.Equal(t, []string{
		"SHIS QI 23, Lago Sul, Brasília, DF, Brasil",
		"SHIS QI 23, Brasília, DF, Brasil",
		"Brasília, DF, Brasil",
	}, *queries)
}

func TestOpenDataProviderRejectsPositionsOutsideBrazil(t *testing.T) {
	provider, _ := newOpenDataServers(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"48.8566","lon":"2.3522"}]`))
	})

	_, err := provider.Resolve(context.Background(), "71680365")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenDataProviderUnknownAndInvalidPostalCodes(t *testing.T) {
	provider, queries := newOpenDataServers(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := provider.Resolve(context.Background(), "99999999")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = provider.Resolve(context.Background(), "123")
	assert.ErrorIs(t, err, ErrInvalidPostalCode)
	assert.Empty(t, *queries)
}

func TestWithinBrazil(t *testing.T) {
	assert.True(t, WithinBrazil(-15.79, -47.88))
	assert.False(t, WithinBrazil(40.71, -74.0))
}
