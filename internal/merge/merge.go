// Package merge folds normalized candidates into stored wine records:
// matching an existing record, applying the source-priority update policy,
// and keeping provenance (field sources, enrichment maps, sync times).
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// Action is what Apply did with a candidate.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Conflict is an equal-priority disagreement between two sources. The
// value already stored is kept.
type Conflict struct {
	Field    wine.Field  `json:"field"`
	Kept     wine.Source `json:"kept"`
	Rejected wine.Source `json:"rejected"`
	KeptVal  any         `json:"kept_value"`
	NewVal   any         `json:"rejected_value"`
}

// Outcome reports the result of one Apply.
type Outcome struct {
	Action    Action
	ID        string
	Conflicts []Conflict
}

// MergeAmbiguityError means several records could be the candidate's wine.
// The candidate is skipped rather than merged into a guess.
type MergeAmbiguityError struct {
	Line     int
	Identity string
	Step     string
	IDs      []string
}

func (e *MergeAmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous match for %s on %s: %d records (%s)",
		e.Identity, e.Step, len(e.IDs), strings.Join(e.IDs, ", "))
}

// Engine applies candidates to a Store. Updates to one record are
// serialized; different records proceed in parallel.
type Engine struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	locks  *keyedMutex
}

// New creates an Engine writing to st.
func New(st store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  newKeyedMutex(),
	}
}

// Apply matches cand against stored records and inserts or merges it.
func (e *Engine) Apply(ctx context.Context, cand wine.Candidate) (Outcome, error) {
	if !cand.HasIdentity() {
		return Outcome{}, fmt.Errorf("candidate at line %d has no identity", cand.Line)
	}
	if cand.Source == "" {
		cand.Source = wine.SourceDefault
	}

	// The identity lock covers match-then-insert; two candidates for the
	// same new wine must not both insert.
	unlock := e.locks.Lock(identityKey(&cand))
	defer unlock()

	match, err := e.match(ctx, &cand)
	if err != nil {
		return Outcome{}, err
	}
	if match == nil {
		return e.insert(ctx, &cand)
	}

	unlockRec := e.locks.Lock("id:" + match.ID)
	defer unlockRec()

	// Re-read under the record lock: an enrichment worker may have written
	// since the match query.
	rec, err := e.store.Get(ctx, match.ID)
	if err != nil {
		return Outcome{}, err
	}
	return e.update(ctx, rec, &cand)
}

// Override sets an admin value for field f on record id. value is the JSON
// encoding of the field value.
func (e *Engine) Override(ctx context.Context, id string, f wine.Field, value json.RawMessage) (*wine.Record, error) {
	var probe wine.Canonical
	if err := probe.SetRaw(f, value); err != nil {
		return nil, fmt.Errorf("override %s: %w", f, err)
	}
	return e.edit(ctx, id, func(rec *wine.Record) bool {
		if old, ok := rec.ManualOverrides[f]; ok && jsonEqual(old, value) {
			return false
		}
		if rec.ManualOverrides == nil {
			rec.ManualOverrides = make(map[wine.Field]json.RawMessage)
		}
		rec.ManualOverrides[f] = value
		rec.AddEnrichedBy(wine.SourceManual)
		e.logger.Info("manual override set", "id", id, "field", f, "value", string(value))
		return true
	})
}

// ClearOverride removes the admin value for field f, exposing the
// canonical value again.
func (e *Engine) ClearOverride(ctx context.Context, id string, f wine.Field) (*wine.Record, error) {
	return e.edit(ctx, id, func(rec *wine.Record) bool {
		if _, ok := rec.ManualOverrides[f]; !ok {
			return false
		}
		delete(rec.ManualOverrides, f)
		if len(rec.ManualOverrides) == 0 {
			rec.ManualOverrides = nil
		}
		e.logger.Info("manual override cleared", "id", id, "field", f)
		return true
	})
}

func (e *Engine) edit(ctx context.Context, id string, fn func(*wine.Record) bool) (*wine.Record, error) {
	unlock := e.locks.Lock("id:" + id)
	defer unlock()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fn(rec) {
		return rec, nil
	}
	rec.UpdatedAt = e.now()
	if _, err := e.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// --------------------------------------------------------------------------
// Matching
// --------------------------------------------------------------------------

// match runs the matching steps in order; the first step that finds a
// record wins. It returns nil when the candidate is a new wine.
func (e *Engine) match(ctx context.Context, c *wine.Candidate) (*wine.Record, error) {
	// 1. exact lwin11
	if c.LWIN11 != "" {
		recs, err := e.store.FindByLWIN(ctx, c.LWIN11)
		if err != nil {
			return nil, err
		}
		if rec, err := single(c, "lwin11", recs); rec != nil || err != nil {
			return rec, err
		}
	}

	if c.LWIN7 != "" {
		recs, err := e.store.FindByLWIN(ctx, c.LWIN7)
		if err != nil {
			return nil, err
		}
		// 2. lwin7 + vintage
		if c.Vintage != nil {
			return single(c, "lwin7+vintage", sameVintage(recs, *c.Vintage))
		}
		// 3. lwin7 alone, non-vintage candidate
		return nonVintage(c, "lwin7", recs)
	}
	if c.HasLWIN() {
		return nil, nil
	}

	// 4. folded name + producer, no LWIN at all
	recs, err := e.store.FindByNameProducer(ctx, c.Name, c.Producer)
	if err != nil {
		return nil, err
	}
	if c.Vintage != nil {
		return single(c, "name+producer+vintage", sameVintage(recs, *c.Vintage))
	}
	return nonVintage(c, "name+producer", recs)
}

func single(c *wine.Candidate, step string, recs []wine.Record) (*wine.Record, error) {
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return &recs[0], nil
	}
	return nil, ambiguity(c, step, recs)
}

// nonVintage resolves a candidate without vintage: a lone record matches,
// otherwise the single non-vintage record among several.
func nonVintage(c *wine.Candidate, step string, recs []wine.Record) (*wine.Record, error) {
	if len(recs) <= 1 {
		return single(c, step, recs)
	}
	var nv []wine.Record
	for _, r := range recs {
		if r.Vintage == nil {
			nv = append(nv, r)
		}
	}
	if len(nv) == 1 {
		return &nv[0], nil
	}
	return nil, ambiguity(c, step, recs)
}

func sameVintage(recs []wine.Record, vintage int) []wine.Record {
	var out []wine.Record
	for _, r := range recs {
		if r.Vintage != nil && *r.Vintage == vintage {
			out = append(out, r)
		}
	}
	return out
}

func ambiguity(c *wine.Candidate, step string, recs []wine.Record) error {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return &MergeAmbiguityError{Line: c.Line, Identity: c.Identity(), Step: step, IDs: ids}
}

func identityKey(c *wine.Candidate) string {
	switch {
	case c.LWIN7 != "":
		return "lwin7:" + c.LWIN7
	case c.LWIN11 != "":
		return "lwin11:" + c.LWIN11
	case c.LWIN18 != "":
		return "lwin18:" + c.LWIN18
	}
	return "np:" + wine.FoldKey(c.Name) + "|" + wine.FoldKey(c.Producer)
}

// --------------------------------------------------------------------------
// Insert and update
// --------------------------------------------------------------------------

func (e *Engine) insert(ctx context.Context, c *wine.Candidate) (Outcome, error) {
	now := e.now()
	rec := &wine.Record{
		DataSource: c.Source,
		LastSynced: map[wine.Source]time.Time{c.Source: now},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, f := range wine.CanonicalFields {
		if c.IsEmpty(f) {
			continue
		}
		rec.CopyField(f, &c.Canonical)
		setFieldSource(rec, f, c.Source)
		if c.Source == wine.SourceManual {
			raw, err := c.Raw(f)
			if err != nil {
				return Outcome{}, err
			}
			setOverride(rec, f, raw)
		}
	}
	applyEnrichment(rec, c)

	id, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Action: ActionInserted, ID: id}, nil
}

func (e *Engine) update(ctx context.Context, rec *wine.Record, c *wine.Candidate) (Outcome, error) {
	out := Outcome{ID: rec.ID}
	changed := false
	contributed := false

	for _, f := range wine.CanonicalFields {
		if c.IsEmpty(f) {
			continue
		}
		ch, conflict, err := e.applyField(rec, c, f)
		if err != nil {
			return Outcome{}, err
		}
		if ch {
			changed, contributed = true, true
		}
		if conflict != nil {
			out.Conflicts = append(out.Conflicts, *conflict)
			e.logger.Warn("equal-priority conflict, keeping first value",
				"id", rec.ID, "field", conflict.Field,
				"kept", conflict.Kept, "rejected", conflict.Rejected,
				"kept_value", conflict.KeptVal, "rejected_value", conflict.NewVal)
		}
	}

	if applyEnrichment(rec, c) {
		changed = true
	}
	if c.HasEnrichment() {
		contributed = true
	}
	if contributed && rec.AddEnrichedBy(c.Source) {
		changed = true
	}

	if rec.LastSynced == nil {
		rec.LastSynced = make(map[wine.Source]time.Time)
	}
	rec.LastSynced[c.Source] = e.now()

	out.Action = ActionUnchanged
	if changed {
		out.Action = ActionUpdated
		rec.UpdatedAt = e.now()
	}
	// Written even when unchanged so last_synced moves.
	if _, err := e.store.Upsert(ctx, rec); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// applyField runs the update policy for one canonical field.
func (e *Engine) applyField(rec *wine.Record, c *wine.Candidate, f wine.Field) (bool, *Conflict, error) {
	src := c.Source
	raw, err := c.Raw(f)
	if err != nil {
		return false, nil, err
	}

	if src == wine.SourceManual {
		if old, ok := rec.ManualOverrides[f]; ok && jsonEqual(old, raw) {
			return false, nil, nil
		}
		setOverride(rec, f, raw)
		return true, nil, nil
	}

	// Admin value wins; keep what the source said for visibility.
	if _, ok := rec.ManualOverrides[f]; ok {
		return recordSourceData(rec, src, f, raw), nil, nil
	}

	if rec.IsEmpty(f) {
		rec.CopyField(f, &c.Canonical)
		setFieldSource(rec, f, src)
		clearSourceData(rec, src, f)
		return true, nil, nil
	}

	cur := rec.FieldSources[f]
	if cur == "" {
		cur = rec.DataSource
	}
	equal := rec.Equal(f, &c.Canonical)

	switch {
	case src == cur:
		// A source may correct its own data.
		if equal {
			return false, nil, nil
		}
		rec.CopyField(f, &c.Canonical)
		setFieldSource(rec, f, src)
		return true, nil, nil

	case equal:
		// Agreement keeps the provenance of whoever set the value.
		return clearSourceData(rec, src, f), nil, nil

	case src.Outranks(cur):
		rec.CopyField(f, &c.Canonical)
		setFieldSource(rec, f, src)
		clearSourceData(rec, src, f)
		return true, nil, nil

	case cur.Outranks(src):
		return recordSourceData(rec, src, f, raw), nil, nil
	}

	// Equal priority, different source: first writer wins.
	changed := recordSourceData(rec, src, f, raw)
	return changed, &Conflict{
		Field:    f,
		Kept:     cur,
		Rejected: src,
		KeptVal:  rec.Value(f),
		NewVal:   c.Value(f),
	}, nil
}

// applyEnrichment merges the per-source maps. Reports whether anything
// changed.
func applyEnrichment(rec *wine.Record, c *wine.Candidate) bool {
	src := c.Source
	changed := false
	if c.Rating != nil {
		if old, ok := rec.Ratings[src]; !ok || !reflect.DeepEqual(old, *c.Rating) {
			if rec.Ratings == nil {
				rec.Ratings = make(map[wine.Source]wine.Rating)
			}
			rec.Ratings[src] = *c.Rating
			changed = true
		}
	}
	if c.Price != nil {
		if old, ok := rec.PriceData[src]; !ok || !reflect.DeepEqual(old, *c.Price) {
			if rec.PriceData == nil {
				rec.PriceData = make(map[wine.Source]wine.Price)
			}
			rec.PriceData[src] = *c.Price
			changed = true
		}
	}
	if c.Image != nil {
		if old, ok := rec.ImageSources[src]; !ok || old != *c.Image {
			if rec.ImageSources == nil {
				rec.ImageSources = make(map[wine.Source]wine.Image)
			}
			rec.ImageSources[src] = *c.Image
			changed = true
		}
	}
	if c.TastingNote != "" && rec.TastingNotes[src] != c.TastingNote {
		if rec.TastingNotes == nil {
			rec.TastingNotes = make(map[wine.Source]string)
		}
		rec.TastingNotes[src] = c.TastingNote
		changed = true
	}
	return changed
}

func setFieldSource(rec *wine.Record, f wine.Field, src wine.Source) {
	if rec.FieldSources == nil {
		rec.FieldSources = make(map[wine.Field]wine.Source)
	}
	rec.FieldSources[f] = src
}

func setOverride(rec *wine.Record, f wine.Field, raw json.RawMessage) {
	if rec.ManualOverrides == nil {
		rec.ManualOverrides = make(map[wine.Field]json.RawMessage)
	}
	rec.ManualOverrides[f] = raw
}

// recordSourceData keeps a value that was not applied. Reports whether the
// stored value changed.
func recordSourceData(rec *wine.Record, src wine.Source, f wine.Field, raw json.RawMessage) bool {
	if old, ok := rec.SourceData[src][f]; ok && jsonEqual(old, raw) {
		return false
	}
	if rec.SourceData == nil {
		rec.SourceData = make(map[wine.Source]map[wine.Field]json.RawMessage)
	}
	if rec.SourceData[src] == nil {
		rec.SourceData[src] = make(map[wine.Field]json.RawMessage)
	}
	rec.SourceData[src][f] = raw
	return true
}

func clearSourceData(rec *wine.Record, src wine.Source, f wine.Field) bool {
	if _, ok := rec.SourceData[src][f]; !ok {
		return false
	}
	delete(rec.SourceData[src], f)
	if len(rec.SourceData[src]) == 0 {
		delete(rec.SourceData, src)
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(va, vb)
}

// IsRecordError reports whether err concerns a single candidate and the run
// can go on.
func IsRecordError(err error) bool {
	var amb *MergeAmbiguityError
	return errors.As(err, &amb) || errors.Is(err, store.ErrConflict)
}
