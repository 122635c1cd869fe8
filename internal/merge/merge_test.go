package merge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func intPtr(v int) *int { return &v }

func leovilleLWIN() wine.Candidate {
	return wine.Candidate{
		Source: wine.SourceLWIN,
		Canonical: wine.Canonical{
			LWIN7:    "1012361",
			LWIN11:   "10123612015",
			Name:     "Château Léoville Barton",
			Producer: "Léoville Barton",
			Vintage:  intPtr(2015),
			WineType: wine.TypeRed,
			Country:  "France",
			Region:   "Bordeaux",
		},
	}
}

func TestInsertSetsProvenance(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	out, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, out.Action)

	rec, err := st.Get(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, wine.SourceLWIN, rec.DataSource)
	assert.Equal(t, wine.TypeRed, rec.WineType)
	assert.Equal(t, 2015, *rec.Vintage)
	assert.Equal(t, wine.SourceLWIN, rec.FieldSources[wine.FieldRegion])
	assert.Contains(t, rec.LastSynced, wine.SourceLWIN)
	assert.Empty(t, rec.EnrichedBy)
}

func TestReapplyIsUnchangedButSynced(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	first, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)
	before, err := st.Get(ctx, first.ID)
	require.NoError(t, err)

	later := before.LastSynced[wine.SourceLWIN].Add(time.Hour)
	e.now = func() time.Time { return later }

	out, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, out.Action)
	assert.Equal(t, first.ID, out.ID)

	after, err := st.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Canonical, after.Canonical)
	assert.True(t, after.LastSynced[wine.SourceLWIN].Equal(later))
	assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt))
}

func TestVivinoRatingEnrichesExistingRecord(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	ins, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)

	out, err := e.Apply(ctx, wine.Candidate{
		Source:    wine.SourceVivino,
		Canonical: wine.Canonical{LWIN7: "1012361"},
		Rating:    &wine.Rating{Score: 4.6},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, out.Action)
	assert.Equal(t, ins.ID, out.ID)

	rec, err := st.Get(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.6, rec.Ratings[wine.SourceVivino].Score)
	assert.True(t, rec.IsEnrichedBy(wine.SourceVivino))
	assert.Equal(t, "Bordeaux", rec.Region)
	assert.Equal(t, "France", rec.Country)
	assert.Equal(t, wine.SourceLWIN, rec.FieldSources[wine.FieldLWIN7])
}

func TestMatchingIgnoresNameCasing(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	a := leovilleLWIN()
	_, err := e.Apply(ctx, a)
	require.NoError(t, err)

	b := leovilleLWIN()
	b.Name = "CHATEAU LEOVILLE BARTON"
	_, err = e.Apply(ctx, b)
	require.NoError(t, err)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestNameProducerMatchIsCaseFolded(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	c := wine.Candidate{Source: wine.SourceOpenFoodFacts, Canonical: wine.Canonical{Name: "Château Margaux", Producer: "Château Margaux", Vintage: intPtr(2010)}}
	first, err := e.Apply(ctx, c)
	require.NoError(t, err)

	c.Name, c.Producer = "CHÂTEAU MARGAUX", "château  margaux"
	c.Region = "Margaux"
	out, err := e.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, first.ID, out.ID)
	assert.Equal(t, ActionUpdated, out.Action)

	n, _ := st.Count(ctx)
	assert.EqualValues(t, 1, n)
}

func TestManualOverrideNeverChangesThroughImport(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	ins, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)

	_, err = e.Override(ctx, ins.ID, wine.FieldRegion, json.RawMessage(`"Saint-Julien"`))
	require.NoError(t, err)

	for _, src := range []wine.Source{wine.SourceLWIN, wine.SourceVivino, wine.SourceWineSearcher} {
		c := leovilleLWIN()
		c.Source = src
		c.Region = "Haut-Médoc"
		_, err := e.Apply(ctx, c)
		require.NoError(t, err)
	}

	rec, err := st.Get(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, "Saint-Julien", rec.Effective().Region)
	assert.JSONEq(t, `"Saint-Julien"`, string(rec.ManualOverrides[wine.FieldRegion]))
	assert.Equal(t, "Bordeaux", rec.Region)
	assert.JSONEq(t, `"Haut-Médoc"`, string(rec.SourceData[wine.SourceVivino][wine.FieldRegion]))

	cleared, err := e.ClearOverride(ctx, ins.ID, wine.FieldRegion)
	require.NoError(t, err)
	assert.Equal(t, "Bordeaux", cleared.Effective().Region)
}

func TestManualSourceWritesOverrides(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	ins, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)

	out, err := e.Apply(ctx, wine.Candidate{
		Source:    wine.SourceManual,
		Canonical: wine.Canonical{LWIN11: "10123612015", LWIN7: "1012361", Vintage: intPtr(2015), Classification: "2ème Grand Cru Classé"},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, out.Action)

	rec, err := st.Get(ctx, ins.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Classification)
	assert.Equal(t, "2ème Grand Cru Classé", rec.Effective().Classification)
	assert.True(t, rec.IsEnrichedBy(wine.SourceManual))
}

func TestPriorityPolicy(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	ins, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)

	// Higher priority overwrites.
	c := leovilleLWIN()
	c.Source = wine.SourceWineSearcher
	c.Region = "Saint-Julien"
	out, err := e.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, out.Action)

	// Lower priority is kept aside.
	c = leovilleLWIN()
	c.Source = wine.SourceOpenFoodFacts
	c.Region = "Médoc"
	_, err = e.Apply(ctx, c)
	require.NoError(t, err)

	rec, err := st.Get(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, "Saint-Julien", rec.Region)
	assert.Equal(t, wine.SourceWineSearcher, rec.FieldSources[wine.FieldRegion])
	assert.JSONEq(t, `"Médoc"`, string(rec.SourceData[wine.SourceOpenFoodFacts][wine.FieldRegion]))

	// The recorded source may correct itself.
	c = leovilleLWIN()
	c.Source = wine.SourceWineSearcher
	c.Region = "St-Julien"
	_, err = e.Apply(ctx, c)
	require.NoError(t, err)
	rec, _ = st.Get(ctx, ins.ID)
	assert.Equal(t, "St-Julien", rec.Region)
}

func TestEqualPriorityConflictKeepsFirst(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	c := wine.Candidate{Source: wine.SourceAI, Canonical: wine.Canonical{LWIN7: "1014033", Region: "Margaux"}}
	ins, err := e.Apply(ctx, c)
	require.NoError(t, err)

	c.Source = wine.SourceDefault
	c.Region = "Bordeaux"
	out, err := e.Apply(ctx, c)
	require.NoError(t, err)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, wine.FieldRegion, out.Conflicts[0].Field)
	assert.Equal(t, wine.SourceAI, out.Conflicts[0].Kept)
	assert.Equal(t, wine.SourceDefault, out.Conflicts[0].Rejected)

	rec, err := st.Get(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, "Margaux", rec.Region)
}

func TestVintageMatching(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	for _, v := range []int{2015, 2016} {
		c := leovilleLWIN()
		c.LWIN11 = ""
		c.Vintage = intPtr(v)
		_, err := e.Apply(ctx, c)
		require.NoError(t, err)
	}

	// lwin7 + vintage picks one of the two.
	c := leovilleLWIN()
	c.LWIN11 = ""
	c.Vintage = intPtr(2016)
	c.Region = "Saint-Julien"
	out, err := e.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, out.Action)

	// lwin7 alone with two vintages and no non-vintage record is ambiguous.
	_, err = e.Apply(ctx, wine.Candidate{Source: wine.SourceVivino, Canonical: wine.Canonical{LWIN7: "1012361"}, Rating: &wine.Rating{Score: 4}})
	var amb *MergeAmbiguityError
	require.True(t, errors.As(err, &amb))
	assert.Len(t, amb.IDs, 2)
	assert.True(t, IsRecordError(err))

	// A non-vintage candidate facing only vintages is just as ambiguous.
	nv := leovilleLWIN()
	nv.LWIN11 = ""
	nv.Vintage = nil
	_, err = e.Apply(ctx, nv)
	require.True(t, errors.As(err, &amb))

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestNonVintageRecordResolvesLWIN7Only(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	nv := leovilleLWIN()
	nv.LWIN11 = ""
	nv.Vintage = nil
	first, err := e.Apply(ctx, nv)
	require.NoError(t, err)

	for _, v := range []int{2015, 2016} {
		c := leovilleLWIN()
		c.LWIN11 = ""
		c.Vintage = intPtr(v)
		out, err := e.Apply(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, ActionInserted, out.Action)
	}

	out, err := e.Apply(ctx, wine.Candidate{Source: wine.SourceVivino, Canonical: wine.Canonical{LWIN7: "1012361"}, Rating: &wine.Rating{Score: 4.2}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, out.ID)

	rec, err := st.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.Vintage)
	assert.Equal(t, 4.2, rec.Ratings[wine.SourceVivino].Score)
}

func TestOtherVintageIsNewWine(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	c := leovilleLWIN()
	c.LWIN11 = ""
	_, err := e.Apply(ctx, c)
	require.NoError(t, err)

	// A different vintage of the same lwin7 is a new wine.
	c.Vintage = intPtr(2016)
	out, err := e.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, out.Action)

	n, _ := st.Count(ctx)
	assert.EqualValues(t, 2, n)
}

func TestConcurrentApplySameWine(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := leovilleLWIN()
			c.Source = wine.SourceVivino
			c.Rating = &wine.Rating{Score: float64(i)}
			_, errs[i] = e.Apply(ctx, c)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, e.locks.size())
}

func TestOverrideRejectsBadValue(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	ins, err := e.Apply(ctx, leovilleLWIN())
	require.NoError(t, err)

	_, err = e.Override(ctx, ins.ID, wine.FieldVintage, json.RawMessage(`"twenty"`))
	assert.Error(t, err)

	_, err = e.Override(ctx, "missing", wine.FieldRegion, json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
