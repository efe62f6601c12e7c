package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

func TestNewEmitter(t *testing.T) {
	e, err := NewEmitter("http://localhost:3847", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3847/api/events", e.Endpoint())

	e, err = NewEmitter("https://bar.example.com/prefix/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://bar.example.com/prefix/api/events", e.Endpoint())

	_, err = NewEmitter("ws://localhost:3847", time.Second)
	assert.Error(t, err)
}

func TestEmitter_Emit(t *testing.T) {
	var got types.BarEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/events", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Invalid JSON"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	e, err := NewEmitter(srv.URL, time.Second)
	require.NoError(t, err)

	ev, err := types.NewEvent(types.EvtSkillUse, types.SkillPayload{SessionID: "abc123", SkillName: "pdf"})
	require.NoError(t, err)
	ev.Timestamp = 0

	require.NoError(t, e.Emit(context.Background(), ev))
	assert.Equal(t, types.EvtSkillUse, got.Type)
	assert.NotZero(t, got.Timestamp, "emitter stamps unset timestamps")

	var p types.SkillPayload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, "pdf", p.SkillName)
}

func TestEmitter_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"shutting down"}`))
	}))
	defer srv.Close()

	e, err := NewEmitter(srv.URL, time.Second)
	require.NoError(t, err)
	err = e.Emit(context.Background(), types.BarEvent{Type: types.EvtSessionEnd})
	assert.ErrorContains(t, err, "shutting down")
}
