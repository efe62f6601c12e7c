package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tungdtfgw/ccviz/internal/engine"
	"github.com/tungdtfgw/ccviz/internal/events"
	"github.com/tungdtfgw/ccviz/internal/journal"
	"github.com/tungdtfgw/ccviz/internal/relay"
	"github.com/tungdtfgw/ccviz/internal/telemetry"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

func newServer(t *testing.T, j *journal.Writer) (*httptest.Server, *relay.Relay) {
	t.Helper()
	m := engine.NewManager()
	r := relay.New(context.Background(), m, events.NewHandler(m, nil, telemetry.Nop()), relay.WithJournal(j))
	srv := httptest.NewServer(SetupRoutes(Deps{Relay: r, Journal: j}))
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return srv, r
}

func post(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestPostEvent(t *testing.T) {
	srv, r := newServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		want   map[string]any
	}{
		{"session start", `{"type":"session:start","timestamp":1,"payload":{"sessionId":"abc123","contextPercent":20}}`, 200, map[string]any{"success": true}},
		{"unknown type still accepted", `{"type":"agent:dance","payload":{}}`, 200, map[string]any{"success": true}},
		{"occupied table still accepted", `{"type":"session:start","payload":{"sessionId":"session-main"}}`, 200, map[string]any{"success": true}},
		{"broken json", `{"type":`, 400, map[string]any{"error": "Invalid JSON"}},
		{"not an object", `[1,2]`, 400, map[string]any{"error": "Invalid JSON"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.want, body)
		})
	}

	view, err := r.State(context.Background())
	require.NoError(t, err)
	require.Len(t, view.State.Sessions, 1)
	assert.Equal(t, "abc123", view.State.Sessions[0].SessionID)
}

func TestPostEvent_BodyLimit(t *testing.T) {
	srv, _ := newServer(t, nil)
	big := `{"type":"skill:use","payload":{"skillName":"` + strings.Repeat("x", maxBodyBytes) + `"}}`
	resp, body := post(t, srv, big)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON", body["error"])
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, nil)

	var body struct {
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	assert.InDelta(t, time.Now().UnixMilli(), body.Timestamp, 5000)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestGetState(t *testing.T) {
	srv, _ := newServer(t, nil)
	post(t, srv, `{"type":"session:start","payload":{"sessionId":"xyz789","contextPercent":33}}`)

	var view relay.View
	resp := getJSON(t, srv.URL+"/api/state", &view)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, view.State.Sessions, 1)
	assert.Equal(t, types.TeamChelsea, view.State.Sessions[0].TeamKey)
	assert.Equal(t, 1, view.State.Sessions[0].TableIndex)
}

func TestGetJournal(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv, _ := newServer(t, nil)
		resp := getJSON(t, srv.URL+"/api/journal", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("enabled", func(t *testing.T) {
		store, err := journal.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "j.db"))
		require.NoError(t, err)
		w := journal.NewWriter(store, 16, nil)
		t.Cleanup(func() { _ = w.Close() })

		srv, _ := newServer(t, w)
		post(t, srv, `{"type":"session:start","payload":{"sessionId":"abc123"}}`)
		post(t, srv, `{"type":"skill:use","payload":{"sessionId":"abc123","skillName":"pdf"}}`)

		require.Eventually(t, func() bool {
			var entries []journal.Entry
			resp := getJSON(t, srv.URL+"/api/journal?limit=1", &entries)
			return resp.StatusCode == http.StatusOK && len(entries) == 1 && entries[0].Type == types.EvtSkillUse
		}, 2*time.Second, 20*time.Millisecond)

		resp := getJSON(t, srv.URL+"/api/journal?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWebsocket_SyncThenBroadcast(t *testing.T) {
	srv, _ := newServer(t, nil)
	post(t, srv, `{"type":"session:start","payload":{"sessionId":"abc123","contextPercent":20}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	read := func() types.BarEvent {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev types.BarEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	first := read()
	require.Equal(t, types.EvtStateSync, first.Type)
	var sync types.StateSyncPayload
	require.NoError(t, first.Decode(&sync))
	require.Len(t, sync.Sessions, 1)
	assert.Equal(t, types.TeamMU, sync.Sessions[0].TeamKey)

	post(t, srv, `{"type":"session:start","payload":{"sessionId":"xyz789","teamKey":"liverpool"}}`)
	ev := read()
	require.Equal(t, types.EvtSessionStart, ev.Type)

	var p types.SessionStartPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "xyz789", p.SessionID)
	assert.Equal(t, types.TeamChelsea, p.TeamKey, "server replaces the hook's team")
	require.NotNil(t, p.TableIndex)
	assert.Equal(t, 1, *p.TableIndex)
}
