package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

func barEvent(typ types.EventType, ts int64, payload string) types.BarEvent {
	return types.BarEvent{Type: typ, Timestamp: ts, Payload: json.RawMessage(payload)}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, barEvent(types.EvtSessionStart, 1, `{"sessionId":"abc123"}`)))
	require.NoError(t, s.Append(ctx, barEvent(types.EvtSkillUse, 2, `{"sessionId":"abc123","skillName":"pdf"}`)))
	require.NoError(t, s.Append(ctx, barEvent(types.EvtSessionEnd, 3, `{"sessionId":"abc123"}`)))

	all, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, types.EvtSessionStart, all[0].Type)
	assert.Equal(t, types.EvtSessionEnd, all[2].Type)
	assert.JSONEq(t, `{"sessionId":"abc123","skillName":"pdf"}`, string(all[1].Payload))

	last, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, int64(2), last[0].Timestamp)
	assert.Equal(t, int64(3), last[1].Timestamp)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CCVIZ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CCVIZ_TEST_POSTGRES_DSN not set")
	}
	s, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.db.Exec("TRUNCATE bar_events").Error)

	exerciseStore(t, s)
}

func TestOpen_Drivers(t *testing.T) {
	s, err := Open(context.Background(), DriverNone, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(context.Background(), "mongo", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestWriter_FlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)

	w := NewWriter(store, 16, nil)
	for i := int64(1); i <= 5; i++ {
		assert.True(t, w.Record(barEvent(types.EvtToolPre, i, `{}`)))
	}
	require.NoError(t, w.Close())
	assert.False(t, w.Record(barEvent(types.EvtToolPre, 6, `{}`)))
	assert.NoError(t, w.Close())

	reopened, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestWriter_Recent(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	w := NewWriter(store, 16, nil)
	defer w.Close()

	require.True(t, w.Record(barEvent(types.EvtSessionStart, 1, `{"sessionId":"abc123"}`)))
	assert.Eventually(t, func() bool {
		got, err := w.Recent(context.Background(), 10)
		return err == nil && len(got) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWriter_NilIsNoop(t *testing.T) {
	var w *Writer
	assert.False(t, w.Record(barEvent(types.EvtToolPre, 1, `{}`)))
	assert.NoError(t, w.Close())
}
