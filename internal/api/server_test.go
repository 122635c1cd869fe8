package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legrimoire/grimoire-data/internal/api/handler"
	"github.com/legrimoire/grimoire-data/internal/api/respond"
	"github.com/legrimoire/grimoire-data/internal/cache"
	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	router http.Handler
	store  store.Store
	engine *merge.Engine
	cache  *cache.Cache
	ids    map[string]string
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if cfg == nil {
		cfg = &config.Config{CORSAllowOrigins: []string{"*"}}
	}
	f := &fixture{
		store:  st,
		engine: merge.New(st, discard),
		cache:  cache.New(true),
		ids:    map[string]string{},
	}
	f.router = NewRouter(st, f.cache, cfg, discard)

	v2010, v2015 := 2010, 2015
	seed := []wine.Canonical{
		{LWIN7: "1012361", LWIN11: "10123612010", Name: "Château Léoville Barton", Producer: "Léoville Barton",
			Vintage: &v2010, WineType: wine.TypeRed, Country: "France", Region: "Bordeaux"},
		{LWIN7: "1012361", LWIN11: "10123612015", Name: "Château Léoville Barton", Producer: "Léoville Barton",
			Vintage: &v2015, WineType: wine.TypeRed, Country: "France", Region: "Bordeaux"},
		{LWIN7: "1173382", LWIN11: "11733822015", Name: "Cloudy Bay Sauvignon Blanc", Producer: "Cloudy Bay",
			Vintage: &v2015, WineType: wine.TypeWhite, Country: "New Zealand", Region: "Marlborough"},
	}
	for _, c := range seed {
		out, err := f.engine.Apply(ctx, wine.Candidate{Source: wine.SourceLWIN, Canonical: c})
		require.NoError(t, err)
		f.ids[c.LWIN11] = out.ID
	}
	return f
}

func (f *fixture) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) handler.WineList {
	t.Helper()
	var out handler.WineList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) respond.ErrorResponse {
	t.Helper()
	var out respond.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestByLWIN7ReturnsAllVintages(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/v1/wines/by-lwin/1012361")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
	list := decodeList(t, rec)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Wines, 2)
	assert.Equal(t, 2010, *list.Wines[0].Vintage)
	assert.Equal(t, 2015, *list.Wines[1].Vintage)

	rec = f.get(t, "/api/v1/wines/by-lwin/10123612015")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeList(t, rec).Count)
}

func TestByLWINRejectsMalformedCodes(t *testing.T) {
	f := newFixture(t, nil)

	for _, code := range []string{"12ab567", "123", "101236120101"} {
		rec := f.get(t, "/api/v1/wines/by-lwin/"+code)
		assert.Equal(t, http.StatusBadRequest, rec.Code, code)
		assert.Equal(t, respond.CodeInvalidLWIN, decodeError(t, rec).Error.Code, code)
	}
}

func TestByLWINNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v1/wines/by-lwin/9999999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, respond.CodeNotFound, decodeError(t, rec).Error.Code)
}

func TestSearchNormalizesFilters(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/v1/wines/search?wine_type=rouge")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeList(t, rec).Count)

	rec = f.get(t, "/api/v1/wines/search?name=L%C3%89OVILLE&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeList(t, rec)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "Château Léoville Barton", list.Wines[0].Name)

	rec = f.get(t, "/api/v1/wines/search?country=NZ")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeList(t, rec).Count)

	rec = f.get(t, "/api/v1/wines/search?region=nowhere")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decodeList(t, rec)
	assert.Zero(t, list.Count)
	assert.NotNil(t, list.Wines)
}

func TestSearchRejectsBadParameters(t *testing.T) {
	f := newFixture(t, nil)

	for _, q := range []string{"wine_type=lemonade", "limit=abc", "offset=-1"} {
		rec := f.get(t, "/api/v1/wines/search?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, respond.CodeBadRequest, decodeError(t, rec).Error.Code, q)
	}
}

func TestGetWineServesEffectiveView(t *testing.T) {
	f := newFixture(t, nil)
	id := f.ids["11733822015"]

	_, err := f.engine.Override(context.Background(), id, wine.FieldRegion, json.RawMessage(`"Wairau Valley"`))
	require.NoError(t, err)

	rec := f.get(t, "/api/v1/wines/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var got wine.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Wairau Valley", got.Region)
	assert.Contains(t, got.ManualOverrides, wine.FieldRegion)

	rec = f.get(t, "/api/v1/wines/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCachedResponsesHonourETag(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/wines/by-lwin/1012361"

	first := f.get(t, path)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := f.get(t, path)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	third := f.get(t, path, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, third.Code)
	assert.Empty(t, third.Body.Bytes())

	// Invalidation forces a fresh read.
	f.cache.Invalidate(cache.PrefixLWIN + "1012361")
	fourth := f.get(t, path)
	assert.Equal(t, "MISS", fourth.Header().Get("X-Cache"))
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/health/db")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connected", body["database"])
	assert.EqualValues(t, 3, body["wines"])

	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/health/cache").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/metrics").Code)

	require.NoError(t, f.store.Close())
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/health/db").Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, &config.Config{
		CORSAllowOrigins:  []string{"*"},
		RateLimitEnabled:  true,
		RateLimitRequests: 4,
		RateLimitWindow:   time.Hour,
	})

	// Burst is half the window allowance.
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
	}
	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, respond.CodeRateLimited, decodeError(t, rec).Error.Code)
}
