package api

import (
	"net/http"

	"github.com/jabbala/tenantfair/replica"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.eng.Stats(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) listReplicas(w http.ResponseWriter, r *http.Request) {
	replicas, err := a.eng.Store().ListReplicas(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if replicas == nil {
		replicas = []*replica.Replica{}
	}
	a.writeJSON(w, http.StatusOK, replicas)
}
