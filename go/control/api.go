// Package control is the HTTP face of the processor: status and message
// queries for operators, and lifecycle commands relayed through the
// file-based command plane.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/finwire/mtflow/go/ipcfiles"
	"github.com/finwire/mtflow/go/store"
)

// Query paging bounds of GET /messages.
const (
	defaultTake = 20
	maxTake     = 100
)

type args struct {
	plane *ipcfiles.Plane
	repo  store.Repository

	// statusInterval is the processor's publication cadence, used to judge
	// staleness of status.json.
	statusInterval time.Duration
}

// RegisterAPIs registers all control APIs on the router.
func RegisterAPIs(router *mux.Router, plane *ipcfiles.Plane,
	repo store.Repository, statusInterval time.Duration) {

	var a = args{plane, repo, statusInterval}

	router.Path("/status").Methods("GET").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveStatus(a, w, r) })
	router.Path("/health").Methods("GET").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveHealth(a, w, r) })
	router.Path("/test-mode").Methods("GET").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveTestMode(a, w, r) })

	for path, cmd := range map[string]ipcfiles.Command{
		"/start":             ipcfiles.CmdStart,
		"/stop":              ipcfiles.CmdStop,
		"/restart":           ipcfiles.CmdRestart,
		"/test-mode/enable":  ipcfiles.CmdEnableTestMode,
		"/test-mode/disable": ipcfiles.CmdDisableTestMode,
	} {
		var cmd = cmd
		router.Path(path).Methods("POST").
			HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveCommand(a, cmd, w, r) })
	}

	router.Path("/messages").Methods("GET").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveMessages(a, w, r) })
	router.Path("/messages/search").Methods("GET").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveSearch(a, w, r) })
	router.Path("/messages/{id}").Methods("GET").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serveMessage(a, w, r) })

	router.Path("/metrics").Methods("GET").Handler(promhttp.Handler())
}

func serveStatus(a args, w http.ResponseWriter, r *http.Request) {
	var s, err = a.plane.ReadStatus()
	if err != nil {
		http.Error(w, "processor status is not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s)
}

// healthResponse is the GET /health body.
type healthResponse struct {
	IsHealthy    bool      `json:"isHealthy"`
	Status       string    `json:"status"`
	CheckedAt    time.Time `json:"checkedAt"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

func serveHealth(a args, w http.ResponseWriter, r *http.Request) {
	var resp = healthResponse{CheckedAt: time.Now().UTC()}
	if s, err := a.plane.ReadStatus(); err != nil {
		resp.Status = "Unknown"
		resp.ErrorMessage = "processor has not published a status"
	} else if !a.plane.Healthy(a.statusInterval) {
		resp.Status = s.Status
		resp.ErrorMessage = "last published status is stale"
	} else {
		resp.IsHealthy = true
		resp.Status = s.Status
	}

	if !resp.IsHealthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	writeJSON(w, resp)
}

func serveTestMode(a args, w http.ResponseWriter, r *http.Request) {
	var s, err = a.plane.ReadStatus()
	if err != nil {
		http.Error(w, "processor status is not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, struct {
		Enabled     bool      `json:"enabled"`
		RetrievedAt time.Time `json:"retrievedAt"`
	}{s.TestModeEnabled, time.Now().UTC()})
}

func serveCommand(a args, cmd ipcfiles.Command, w http.ResponseWriter, r *http.Request) {
	if err := a.plane.WriteCommand(cmd); err != nil {
		log.WithFields(log.Fields{"command": cmd, "err": err}).Error("command write failed")
		http.Error(w, "command could not be issued", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"command": string(cmd), "result": "accepted"})
}

func serveMessages(a args, w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var filter = store.Filter{Take: defaultTake}

	if v := q.Get("take"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "take must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Take = n
	}
	if filter.Take > maxTake {
		filter.Take = maxTake
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "skip must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Skip = n
	}
	if v := q.Get("status"); v != "" {
		var s = store.Status(v)
		if !store.ValidStatus(s) {
			http.Error(w, "unknown status "+v, http.StatusBadRequest)
			return
		}
		filter.Status = s
	}
	if v := q.Get("fromDate"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "fromDate must be RFC 3339", http.StatusBadRequest)
			return
		}
		filter.FromDate = ts
	}
	if v := q.Get("toDate"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "toDate must be RFC 3339", http.StatusBadRequest)
			return
		}
		filter.ToDate = ts
	}

	var msgs, err = a.repo.Query(r.Context(), filter)
	if err != nil {
		log.WithField("err", err).Error("message query failed")
		http.Error(w, "message query failed", http.StatusInternalServerError)
		return
	}
	count, err := a.repo.Count(r.Context(), filter)
	if err != nil {
		log.WithField("err", err).Error("message count failed")
		http.Error(w, "message query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Messages []store.ProcessedMessage `json:"messages"`
		Total    int64                    `json:"total"`
		Skip     int                      `json:"skip"`
		Take     int                      `json:"take"`
	}{msgs, count, filter.Skip, filter.Take})
}

func serveMessage(a args, w http.ResponseWriter, r *http.Request) {
	var id = mux.Vars(r)["id"]
	var msg, err = a.repo.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no message with id "+id, http.StatusNotFound)
		return
	} else if err != nil {
		log.WithFields(log.Fields{"id": id, "err": err}).Error("message lookup failed")
		http.Error(w, "message lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, msg)
}

func serveSearch(a args, w http.ResponseWriter, r *http.Request) {
	var reference = r.URL.Query().Get("reference")
	if reference == "" {
		http.Error(w, "reference is required", http.StatusBadRequest)
		return
	}
	var msgs, err = a.repo.GetByReference(r.Context(), reference)
	if err != nil {
		log.WithFields(log.Fields{"reference": reference, "err": err}).
			Error("reference search failed")
		http.Error(w, "reference search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Messages []store.ProcessedMessage `json:"messages"`
		Total    int                      `json:"total"`
	}{msgs, len(msgs)})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("response encoding failed")
	}
}
