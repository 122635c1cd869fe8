package maintenance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legrimoire/grimoire-data/internal/cache"
	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/enrich"
	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStore(t *testing.T) (store.Store, *merge.Engine) {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	engine := merge.New(st, discard)
	for _, c := range []wine.Canonical{
		{LWIN7: "1012361", Name: "Château Léoville Barton", Producer: "Léoville Barton"},
		{LWIN7: "1173382", Name: "Cloudy Bay Sauvignon Blanc", Producer: "Cloudy Bay"},
	} {
		_, err := engine.Apply(context.Background(), wine.Candidate{Source: wine.SourceLWIN, Canonical: c})
		require.NoError(t, err)
	}
	return st, engine
}

func TestSweepVisitsEveryProvider(t *testing.T) {
	var vivino, searcher atomic.Int32
	viv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vivino.Add(1)
		io.WriteString(w, `{"wine":{"rating":4.2}}`)
	}))
	defer viv.Close()
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		searcher.Add(1)
		io.WriteString(w, `{"status":"no_match"}`)
	}))
	defer ws.Close()

	st, engine := newStore(t)
	cc := func(url string) enrich.ClientConfig {
		return enrich.ClientConfig{BaseURL: url, APIKey: "k", Timeout: time.Second, RatePerMinute: 600000}
	}
	deps := Deps{
		Runner: enrich.NewRunner(engine, st, 2, discard),
		Providers: []enrich.Provider{
			enrich.NewVivinoClient(cc(viv.URL), discard),
			enrich.NewWineSearcherClient(cc(ws.URL), discard),
		},
	}
	cfg := Config{StaleAfter: time.Hour, SweepLimit: 10}

	Sweep(context.Background(), deps, cfg, discard)
	assert.EqualValues(t, 2, vivino.Load())
	assert.EqualValues(t, 2, searcher.Load())

	// Both providers synced every record; nothing is stale yet.
	Sweep(context.Background(), deps, cfg, discard)
	assert.EqualValues(t, 2, vivino.Load())
	assert.EqualValues(t, 2, searcher.Load())
}

func TestAfterImportAnalyzes(t *testing.T) {
	st, _ := newStore(t)
	require.NoError(t, AfterImport(context.Background(), st, discard))
}

func TestStartStopsOnCancel(t *testing.T) {
	c := cache.New(true)
	c.Set(cache.PrefixWine+"x", []byte("1"), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Start(ctx, Deps{Cache: c}, Config{EvictInterval: 5 * time.Millisecond}, discard)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Stats()["total_keys"] == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(&config.Config{EnrichSweepEvery: time.Hour, EnrichStaleAfter: 48 * time.Hour})
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 48*time.Hour, cfg.StaleAfter)
	assert.Equal(t, DefaultSweepLimit, cfg.SweepLimit)
}
