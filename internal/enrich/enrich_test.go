package enrich

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	store  store.Store
	engine *merge.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &env{store: st, engine: merge.New(st, discard)}
}

func (e *env) seed(t *testing.T, n int) []wine.Record {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i := 0; i < n; i++ {
		v := 2010 + i
		out, err := e.engine.Apply(ctx, wine.Candidate{
			Source: wine.SourceLWIN,
			Canonical: wine.Canonical{
				LWIN7:    "1012361",
				LWIN11:   "1012361" + strconv.Itoa(v),
				Name:     "Château Léoville Barton",
				Producer: "Léoville Barton",
				Vintage:  &v,
				Region:   "Bordeaux",
				Country:  "France",
			},
		})
		require.NoError(t, err)
		ids = append(ids, out.ID)
	}
	recs := make([]wine.Record, 0, n)
	for _, id := range ids {
		rec, err := e.store.Get(ctx, id)
		require.NoError(t, err)
		recs = append(recs, *rec)
	}
	return recs
}

func testConfig(url string) ClientConfig {
	return ClientConfig{BaseURL: url, APIKey: "k", Timeout: time.Second, RatePerMinute: 600000}
}

func TestVivinoEnrichesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wines/match", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "10123612010", r.URL.Query().Get("lwin11"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"wine":{"name":"Léoville Barton","rating":{"average":4.6,"count":1532},
			"grapes":["Cabernet Sauvignon","Merlot"],"image":{"url":"https://img.example/lb.png","quality":"high"},
			"tasting_note":"Cassis and cedar."}}`)
	}))
	defer srv.Close()

	e := newEnv(t)
	recs := e.seed(t, 1)
	runner := NewRunner(e.engine, e.store, 4, discard)

	stats, err := runner.Run(context.Background(), NewVivinoClient(testConfig(srv.URL), discard), recs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Looked)
	assert.Equal(t, 1, stats.Enriched)

	rec, err := e.store.Get(context.Background(), recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4.6, rec.Ratings[wine.SourceVivino].Score)
	require.NotNil(t, rec.Ratings[wine.SourceVivino].Count)
	assert.Equal(t, 1532, *rec.Ratings[wine.SourceVivino].Count)
	assert.Equal(t, "https://img.example/lb.png", rec.ImageSources[wine.SourceVivino].URL)
	assert.Equal(t, "Cassis and cedar.", rec.TastingNotes[wine.SourceVivino])
	assert.Len(t, rec.Grapes, 2)
	assert.True(t, rec.IsEnrichedBy(wine.SourceVivino))
	assert.Equal(t, "Bordeaux", rec.Region)
	assert.Contains(t, rec.LastSynced, wine.SourceVivino)

	// Same answer again changes nothing.
	stats, err = runner.Run(context.Background(), NewVivinoClient(testConfig(srv.URL), discard), []wine.Record{*rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unchanged)
}

func TestNoMatchStillMarksSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := newEnv(t)
	recs := e.seed(t, 2)
	runner := NewRunner(e.engine, e.store, 2, discard)

	stats, err := runner.Run(context.Background(), NewVivinoClient(testConfig(srv.URL), discard), recs)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NoMatch)

	rec, err := e.store.Get(context.Background(), recs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, rec.LastSynced, wine.SourceVivino)
	assert.False(t, rec.IsEnrichedBy(wine.SourceVivino))
}

func TestProviderFailureIsSkippedAndTripsBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newEnv(t)
	recs := e.seed(t, 5)
	cfg := testConfig(srv.URL)
	cfg.FailureThreshold = 2
	cfg.OpenFor = time.Minute
	runner := NewRunner(e.engine, e.store, 1, discard)

	stats, err := runner.Run(context.Background(), NewVivinoClient(cfg, discard), recs)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Skipped)
	assert.EqualValues(t, 2, hits.Load())

	rec, err := e.store.Get(context.Background(), recs[0].ID)
	require.NoError(t, err)
	assert.NotContains(t, rec.LastSynced, wine.SourceVivino)
}

func TestSlowProviderTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	e := newEnv(t)
	recs := e.seed(t, 1)
	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond

	stats, err := NewRunner(e.engine, e.store, 1, discard).Run(context.Background(), NewVivinoClient(cfg, discard), recs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
}

func TestWineSearcherPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "k", q.Get("api_key"))
		assert.Equal(t, "10123612010", q.Get("lwin"))
		assert.Equal(t, "2010", q.Get("vintage"))
		io.WriteString(w, `{"status":"ok","wine":{"price_average":"89,50","price_min":72,"price_max":"120","currency":"eur","score":94,"offers_count":12}}`)
	}))
	defer srv.Close()

	e := newEnv(t)
	recs := e.seed(t, 1)

	stats, err := NewRunner(e.engine, e.store, 1, discard).Run(context.Background(), NewWineSearcherClient(testConfig(srv.URL), discard), recs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enriched)

	rec, err := e.store.Get(context.Background(), recs[0].ID)
	require.NoError(t, err)
	p := rec.PriceData[wine.SourceWineSearcher]
	require.NotNil(t, p.Value)
	assert.Equal(t, 89.5, *p.Value)
	assert.Equal(t, 72.0, *p.Min)
	assert.Equal(t, 120.0, *p.Max)
	assert.Equal(t, "EUR", p.Currency)
	require.NotNil(t, p.InStock)
	assert.True(t, *p.InStock)
	assert.Equal(t, 94.0, rec.Ratings[wine.SourceWineSearcher].Score)
}

func TestWineSearcherNoMatchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"no_match","wine":null}`)
	}))
	defer srv.Close()

	rec := &wine.Record{Canonical: wine.Canonical{Name: "Unknown", Producer: "Nobody"}}
	_, err := NewWineSearcherClient(testConfig(srv.URL), discard).Lookup(context.Background(), rec)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSweepOnlyTouchesStaleRecords(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `{"wine":{"rating":4.1}}`)
	}))
	defer srv.Close()

	e := newEnv(t)
	e.seed(t, 3)
	runner := NewRunner(e.engine, e.store, 3, discard)
	p := NewVivinoClient(testConfig(srv.URL), discard)

	stats, err := runner.Sweep(context.Background(), p, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Looked)

	// Everything was just synced.
	stats, err = runner.Sweep(context.Background(), p, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Looked)
	assert.EqualValues(t, 3, hits.Load())
}

func TestClampWorkers(t *testing.T) {
	assert.Equal(t, 1, clampWorkers(0))
	assert.Equal(t, 1, clampWorkers(-3))
	assert.Equal(t, 4, clampWorkers(4))
	assert.Equal(t, MaxWorkers, clampWorkers(64))
}

func TestExtractNumber(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{4.2, 4.2, true},
		{"4,2", 4.2, true},
		{map[string]any{"average": 3.9, "count": 10.0}, 3.9, true},
		{map[string]any{"score": "91"}, 91, true},
		{"n/a", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tc := range cases {
		got, ok := extractNumber(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}

func TestIdentityPrefersLWIN11(t *testing.T) {
	v := 2015
	rec := &wine.Record{Canonical: wine.Canonical{LWIN7: "1012361", LWIN11: "10123612015", Name: "x", Producer: "y", Vintage: &v}}
	id := identity(rec)
	assert.Equal(t, "10123612015", id.LWIN11)
	assert.Empty(t, id.LWIN7)
	assert.Empty(t, id.Name)

	rec.LWIN11 = ""
	id = identity(rec)
	assert.Equal(t, "1012361", id.LWIN7)
	assert.Equal(t, 2015, *id.Vintage)

	rec.LWIN7 = ""
	id = identity(rec)
	assert.Equal(t, "x", id.Name)
	assert.Equal(t, "y", id.Producer)
}
