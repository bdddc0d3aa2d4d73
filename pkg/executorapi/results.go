package executorapi

import (
	"encoding/json"
	"net/http"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
)

// Results serves POST /executor/results (C5). The authenticated request's
// X-Cluster-ID must match the cluster the command was issued for. That
// check is against the queue's durable per-command cluster record rather
// than any connection's in-flight map: the in-flight entry is cleared as
// soon as the first Deliver for a command succeeds, and wiped entirely on
// disconnect/reconnect, but a result nobody's connection remembers anymore
// can still be a legitimate idempotent retry (spec.md §4.9 step 4) and must
// resolve to the same cluster it always belonged to.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	clusterID := r.Header.Get("X-Cluster-ID")
	if clusterID == "" {
		writeJSONError(w, kerrors.New(kerrors.InvalidArgument, "missing X-Cluster-ID header"))
		return
	}

	var res kubently.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeJSONError(w, kerrors.Wrap(kerrors.InvalidArgument, "decode result", err))
		return
	}
	if res.CommandID == "" {
		writeJSONError(w, kerrors.New(kerrors.InvalidArgument, "missing command_id"))
		return
	}

	owner, ok, err := h.queue.CommandCluster(r.Context(), res.CommandID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	if !ok || owner != clusterID {
		writeJSONError(w, kerrors.New(kerrors.PermissionDenied, "command does not belong to this cluster"))
		return
	}

	accepted, err := h.queue.Deliver(r.Context(), &res)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if accepted {
		w.WriteHeader(http.StatusOK)
	} else {
		// Duplicate or post-timeout delivery: still 200, the endpoint is
		// idempotent from the executor's point of view (it should not
		// retry), it simply had no effect.
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"accepted": accepted})
}
