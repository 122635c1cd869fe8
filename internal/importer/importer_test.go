package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/normalize"
	"github.com/legrimoire/grimoire-data/internal/source"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

type fixture struct {
	store store.Store
	imp   *Importer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store: st,
		imp:   New(merge.New(st, logger), normalize.New(logger), logger, opts),
	}
}

func leovilleRow() source.Row {
	return source.Row{
		"LWIN7":    "1012361",
		"name":     "Château Léoville Barton",
		"producer": "Léoville Barton",
		"vintage":  "2015",
		"colour":   "Red",
		"country":  "France",
		"region":   "Bordeaux",
	}
}

func TestLeovilleBartonScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	stats, err := f.imp.Run(ctx, source.NewSliceReader([]source.Row{leovilleRow()}), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)

	recs, err := f.store.FindByLWIN(ctx, "1012361")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, wine.SourceLWIN, recs[0].DataSource)
	assert.Equal(t, wine.TypeRed, recs[0].WineType)
	assert.Equal(t, 2015, *recs[0].Vintage)

	stats, err = f.imp.Run(ctx, source.NewSliceReader([]source.Row{leovilleRow()}), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Zero(t, stats.Inserted)
	assert.Zero(t, stats.Updated)
	assert.Equal(t, 1, stats.Unchanged)

	// Per-row source wins over the run default.
	vivino := source.Row{"lwin7": "1012361", "rating": "4.6", "source": "vivino"}
	stats, err = f.imp.Run(ctx, source.NewSliceReader([]source.Row{vivino}), wine.SourceDefault)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	rec, err := f.store.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4.6, rec.Ratings[wine.SourceVivino].Score)
	assert.True(t, rec.IsEnrichedBy(wine.SourceVivino))
	assert.Equal(t, "Bordeaux", rec.Region)
	assert.Equal(t, "France", rec.Country)
}

func TestPartialFailureContainment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{BatchSize: 3})

	rows := make([]source.Row, 10)
	for i := range rows {
		rows[i] = source.Row{
			"lwin7":    strconv.Itoa(2000000 + i),
			"name":     "Wine " + strconv.Itoa(i),
			"producer": "Producer",
		}
	}
	rows[4] = source.Row{"name": "Nameless producer", "region": "Loire"}

	stats, err := f.imp.Run(ctx, source.NewSliceReader(rows), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Processed)
	assert.Equal(t, 9, stats.Inserted)
	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 5, stats.Errors[0].Line)
	assert.Equal(t, KindMalformed, stats.Errors[0].Kind)
	assert.Equal(t, "Loire", stats.Errors[0].Raw["region"])
	assert.Equal(t, 10, stats.LastOffset)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)
}

func TestInvalidLWINDropsOnlyThatField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	row := source.Row{"lwin7": "12345", "name": "Sancerre", "producer": "Henri Bourgeois", "region": "Loire"}
	stats, err := f.imp.Run(ctx, source.NewSliceReader([]source.Row{row}), wine.SourceDefault)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	require.Len(t, stats.Warnings, 1)
	assert.Equal(t, "lwin7", stats.Warnings[0].Field)

	recs, err := f.store.FindByNameProducer(ctx, "Sancerre", "Henri Bourgeois")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].LWIN7)
	assert.Equal(t, "Loire", recs[0].Region)
}

func TestAmbiguousRecordIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	rows := []source.Row{
		{"lwin7": "1012361", "name": "Léoville Barton", "producer": "Léoville Barton", "vintage": "2015"},
		{"lwin7": "1012361", "name": "Léoville Barton", "producer": "Léoville Barton", "vintage": "2016"},
		{"lwin7": "1012361", "rating": "92", "source": "vivino"},
	}
	stats, err := f.imp.Run(ctx, source.NewSliceReader(rows), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, KindAmbiguous, stats.Errors[0].Kind)
	assert.Equal(t, 3, stats.Errors[0].Line)
}

func TestSampleImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{BatchSize: 7})

	var buf bytes.Buffer
	require.NoError(t, WriteSample(&buf, source.FormatCSV, 25, 7))
	data := buf.Bytes()

	open := func() source.RowReader {
		r, err := source.NewCSVReader(bytes.NewReader(data))
		require.NoError(t, err)
		return r
	}

	first, err := f.imp.Run(ctx, open(), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Equal(t, 30, first.Processed)
	assert.Equal(t, 30, first.Inserted+first.Updated)
	assert.Empty(t, first.Errors)

	before, err := f.store.Search(ctx, store.Filter{Limit: store.MaxLimit})
	require.NoError(t, err)

	second, err := f.imp.Run(ctx, open(), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 30, second.Unchanged)

	after, err := f.store.Search(ctx, store.Filter{Limit: store.MaxLimit})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Canonical, after[i].Canonical)
	}
}

func TestGeneratedRowsMergeByNameProducer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	faker := gofakeit.New(11)

	var rows []source.Row
	for i := 0; i < 20; i++ {
		name := "Cuvée " + faker.LetterN(8) + " " + strconv.Itoa(i)
		producer := faker.LastName() + " Estate"
		rows = append(rows,
			source.Row{"name": name, "producer": producer, "vintage": "2019"},
			source.Row{"name": strings.ToUpper(name), "producer": producer, "vintage": "2019", "region": faker.City()},
		)
	}

	stats, err := f.imp.Run(ctx, source.NewSliceReader(rows), wine.SourceOpenFoodFacts)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Inserted)
	assert.Equal(t, 20, stats.Updated)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}

func TestResumeSkipsCheckpointedRows(t *testing.T) {
	ctx := context.Background()
	progress := NewInMemoryProgress()
	f := newFixture(t, Options{BatchSize: 2, Progress: progress, Resume: true})

	rows := make([]source.Row, 6)
	for i := range rows {
		rows[i] = source.Row{"lwin7": strconv.Itoa(3000000 + i), "name": "W" + strconv.Itoa(i), "producer": "P"}
	}
	require.NoError(t, progress.Save(ctx, &ImportStats{Source: wine.SourceLWIN, LastOffset: 4}))

	stats, err := f.imp.Run(ctx, source.NewSliceReader(rows), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Resumed)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Inserted)

	// Completed runs clear their checkpoint.
	saved, err := progress.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestCheckpointFromOtherSourceIsIgnored(t *testing.T) {
	ctx := context.Background()
	progress := NewInMemoryProgress()
	f := newFixture(t, Options{Progress: progress, Resume: true})
	require.NoError(t, progress.Save(ctx, &ImportStats{Source: wine.SourceVivino, LastOffset: 1}))

	stats, err := f.imp.Run(ctx, source.NewSliceReader([]source.Row{leovilleRow()}), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Zero(t, stats.Resumed)
	assert.Equal(t, 1, stats.Inserted)
}

// cancelOnSave interrupts the run right after the first checkpoint.
type cancelOnSave struct {
	*InMemoryProgress
	cancel context.CancelFunc
}

func (c *cancelOnSave) Save(ctx context.Context, stats *ImportStats) error {
	err := c.InMemoryProgress.Save(ctx, stats)
	c.cancel()
	return err
}

func TestInterruptKeepsCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := &cancelOnSave{InMemoryProgress: NewInMemoryProgress(), cancel: cancel}
	f := newFixture(t, Options{BatchSize: 2, Progress: progress})

	rows := make([]source.Row, 6)
	for i := range rows {
		rows[i] = source.Row{"lwin7": strconv.Itoa(4000000 + i), "name": "W" + strconv.Itoa(i), "producer": "P"}
	}

	stats, err := f.imp.Run(ctx, source.NewSliceReader(rows), wine.SourceLWIN)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, stats.LastOffset)
	assert.Equal(t, 2, stats.Inserted)

	saved, err := progress.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 2, saved.LastOffset)

	// A resumed run picks up the remaining rows.
	resumed := newFixture(t, Options{BatchSize: 2, Progress: progress.InMemoryProgress, Resume: true})
	stats, err = resumed.imp.Run(context.Background(), source.NewSliceReader(rows), wine.SourceLWIN)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Resumed)
	assert.Equal(t, 4, stats.Inserted)
}

type failingReader struct{}

func (failingReader) Next() (source.Row, error) { return nil, errors.New("disk on fire") }
func (failingReader) Close() error              { return nil }

func TestReaderFailureIsFatal(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.imp.Run(context.Background(), failingReader{}, wine.SourceLWIN)
	assert.ErrorContains(t, err, "disk on fire")
}

func TestWriteReportListsErrors(t *testing.T) {
	stats := &ImportStats{
		Source:    wine.SourceLWIN,
		Processed: 2,
		Inserted:  1,
		Skipped:   1,
		Errors:    []RecordError{{Line: 2, Kind: KindMalformed, Message: "line 2: malformed record: insufficient identity"}},
		Warnings:  []RecordError{{Line: 1, Kind: KindField, Field: "vintage", Message: `invalid vintage "20x5": not a year`}},
	}
	var buf bytes.Buffer
	require.NoError(t, stats.WriteReport(&buf))
	out := buf.String()
	assert.Contains(t, out, "inserted=1")
	assert.Contains(t, out, "errors (1):")
	assert.Contains(t, out, "line 2 [malformed]")
	assert.Contains(t, out, "warnings (1):")
}
