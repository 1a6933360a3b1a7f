package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/id"
)

// defaultPurgeAge is how far back POST /v1/dlq/purge reaches when the
// older_than parameter is absent.
const defaultPurgeAge = 30 * 24 * time.Hour

const defaultListLimit = 50

type purgeResponse struct {
	Purged int64 `json:"purged"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := dlq.ListOpts{
		TenantID: q.Get("tenant_id"),
		Limit:    defaultListLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}

	entries, err := a.eng.DLQService().DLQStore().ListDLQ(r.Context(), opts)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}

	entry, err := a.eng.DLQService().DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

// replayDLQ re-enqueues an expired request with a fresh deadline. The
// entry can be replayed once; later attempts return 409.
func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}

	req, err := a.eng.DLQService().Replay(r.Context(), entryID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, req)
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	age := defaultPurgeAge
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			a.writeError(w, http.StatusBadRequest, "invalid older_than duration")
			return
		}
		age = d
	}

	purged, err := a.eng.DLQService().DLQStore().PurgeDLQ(r.Context(), time.Now().UTC().Add(-age))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, purgeResponse{Purged: purged})
}

func (a *API) countDLQ(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, countResponse{Count: count})
}
