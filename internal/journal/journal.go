// Package journal keeps an append-only record of the events the relay
// broadcast, for diagnosing what the bar showed. It is never replayed to
// clients.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

const (
	DriverNone     = ""
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown journal driver")

type Entry struct {
	ID         int64           `json:"id"`
	Type       types.EventType `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recordedAt"`
}

type Store interface {
	Append(ctx context.Context, ev types.BarEvent) error
	// Recent returns up to limit entries, oldest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open returns nil, nil for DriverNone.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverNone:
		return nil, nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func payloadOf(ev types.BarEvent) string {
	if len(ev.Payload) == 0 {
		return "null"
	}
	return string(ev.Payload)
}

// newestFirst entries are flipped to oldest first.
func chronological(entries []Entry) []Entry {
	slices.Reverse(entries)
	return entries
}
