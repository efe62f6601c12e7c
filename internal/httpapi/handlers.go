package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/internal/journal"
	"github.com/tungdtfgw/ccviz/internal/relay"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

const (
	maxBodyBytes        = 1 << 20
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// PostEvent accepts one hook event. The answer is 200 whenever the body
// parses, even if the handler later drops the event: hooks fire and forget.
func PostEvent(r *relay.Relay, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var ev types.BarEvent
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&ev); err != nil {
			log.Debug("rejecting event body", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON"})
			return
		}

		if err := r.Submit(req.Context(), ev); err != nil {
			if errors.Is(err, relay.ErrClosed) {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "shutting down"})
				return
			}
			log.Warn("submit event", zap.String("type", string(ev.Type)), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{Success: true})
	}
}

func Health(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}{Status: "ok", Timestamp: types.NowMillis()})
}

// GetState returns what a newly connected client would receive in its
// state:sync, plus the client count.
func GetState(r *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		view, err := r.State(req.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func GetJournal(j *journal.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if j == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "journal disabled"})
			return
		}

		limit := defaultJournalLimit
		if raw := req.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
				return
			}
			limit = min(n, maxJournalLimit)
		}

		entries, err := j.Recent(req.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
