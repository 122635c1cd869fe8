package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/legrimoire/grimoire-data/internal/api/respond"
	"github.com/legrimoire/grimoire-data/internal/cache"
	"github.com/legrimoire/grimoire-data/internal/normalize"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// WineList is the response shape of list endpoints.
type WineList struct {
	Count int            `json:"count"`
	Wines []*wine.Record `json:"wines"`
}

// GetByLWIN returns every wine sharing an LWIN code.
// @Summary Look up wines by LWIN
// @Description Dispatches on code length: LWIN-7 returns every vintage, LWIN-11 one vintage, LWIN-18 one pack format.
// @Tags wines
// @Produce json
// @Param code path string true "LWIN code (7, 11 or 18 digits)"
// @Success 200 {object} WineList
// @Success 304 "Not Modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/wines/by-lwin/{code} [get]
func (h *Handler) GetByLWIN(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	key := cache.PrefixLWIN + code

	if h.serveCached(w, r, key, cache.TTLWine) {
		return
	}

	recs, err := h.store.FindByLWIN(r.Context(), code)
	switch {
	case errors.Is(err, store.ErrInvalidLWIN):
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidLWIN, err.Error(), "got "+strconv.Quote(code))
		return
	case err != nil:
		h.internalError(w, "lookup by lwin", err)
		return
	case len(recs) == 0:
		respond.WriteError(w, http.StatusNotFound, respond.CodeNotFound, "No wine found for LWIN "+code)
		return
	}
	h.writeFresh(w, key, cache.TTLWine, listOf(recs))
}

// SearchWines filters wines by name, region, country and type.
// @Summary Search wines
// @Description Case-insensitive search. Name matches a substring; region, country and type match exactly after normalization. Results are ordered by name then vintage.
// @Tags wines
// @Produce json
// @Param name query string false "Substring of the wine name"
// @Param region query string false "Region"
// @Param country query string false "Country (synonyms such as USA are accepted)"
// @Param wine_type query string false "Wine type (synonyms such as rouge or champagne are accepted)"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} WineList
// @Success 304 "Not Modified"
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/wines/search [get]
func (h *Handler) SearchWines(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeBadRequest, err.Error())
		return
	}
	key := cache.PrefixSearch + searchKey(f)

	if h.serveCached(w, r, key, cache.TTLSearch) {
		return
	}

	recs, err := h.store.Search(r.Context(), f)
	if err != nil {
		h.internalError(w, "search", err)
		return
	}
	h.writeFresh(w, key, cache.TTLSearch, listOf(recs))
}

// GetWine returns one wine by id.
// @Summary Get a wine
// @Description Returns the effective view of one wine document, manual overrides applied.
// @Tags wines
// @Produce json
// @Param id path string true "Wine id"
// @Success 200 {object} wine.Record
// @Success 304 "Not Modified"
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/wines/{id} [get]
func (h *Handler) GetWine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := cache.PrefixWine + id

	if h.serveCached(w, r, key, cache.TTLWine) {
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, respond.CodeNotFound, "No wine with id "+id)
		return
	}
	if err != nil {
		h.internalError(w, "get wine", err)
		return
	}
	h.writeFresh(w, key, cache.TTLWine, rec.Effective())
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// serveCached answers from the cache, with a 304 when the client already
// holds the current ETag. Reports whether a response was written.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration) bool {
	data, etag, ok := h.cache.Get(key)
	if !ok {
		return false
	}
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return true
	}
	respond.WriteJSON(w, data, etag, ttl, true)
	return true
}

func (h *Handler) writeFresh(w http.ResponseWriter, key string, ttl time.Duration, v any) {
	data, err := respond.Marshal(v)
	if err != nil {
		h.internalError(w, "encode", err)
		return
	}
	etag := h.cache.Set(key, data, ttl)
	respond.WriteJSON(w, data, etag, ttl, false)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", "op", op, "error", err)
	respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Internal server error")
}

func listOf(recs []wine.Record) WineList {
	out := WineList{Count: len(recs), Wines: make([]*wine.Record, len(recs))}
	for i := range recs {
		out.Wines[i] = recs[i].Effective()
	}
	return out
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(q url.Values) (store.Filter, error) {
	f := store.Filter{
		Name:   q.Get("name"),
		Region: q.Get("region"),
	}
	if c := q.Get("country"); c != "" {
		f.Country = normalize.Country(c)
	}
	if t := q.Get("wine_type"); t != "" {
		wt, known := normalize.WineType(t, "")
		if !known {
			return f, filterError("unknown wine_type " + strconv.Quote(t))
		}
		f.WineType = wt
	}
	var err error
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	if f.Limit > store.MaxLimit {
		f.Limit = store.MaxLimit
	}
	return f, nil
}

func intParam(q url.Values, name string) (int, error) {
	s := q.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, filterError(name + " must be a non-negative integer")
	}
	return n, nil
}

// searchKey renders the normalized filter so equivalent queries share a
// cache entry.
func searchKey(f store.Filter) string {
	v := url.Values{}
	v.Set("name", wine.FoldKey(f.Name))
	v.Set("region", wine.FoldKey(f.Region))
	v.Set("country", wine.FoldKey(f.Country))
	v.Set("wine_type", string(f.WineType))
	v.Set("limit", strconv.Itoa(f.Limit))
	v.Set("offset", strconv.Itoa(f.Offset))
	return v.Encode()
}
