// Package relay serializes every state mutation through one goroutine and fans
// the resulting events out to connected clients.
package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/internal/engine"
	"github.com/tungdtfgw/ccviz/internal/events"
	"github.com/tungdtfgw/ccviz/internal/journal"
	"github.com/tungdtfgw/ccviz/internal/telemetry"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

var ErrClosed = errors.New("relay closed")

type Msg interface{ isRelayMsg() }

// Submit hands an inbound hook event to the event handler.
type Submit struct {
	Event types.BarEvent
}

func (Submit) isRelayMsg() {}

type Join struct {
	ClientID string
	Outbox   chan types.BarEvent // first message is always state:sync
}

func (Join) isRelayMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRelayMsg() {}

type Shutdown struct{}

func (Shutdown) isRelayMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRelayMsg() {}

type View struct {
	NumClients int                    `json:"numClients"`
	State      types.StateSyncPayload `json:"state"`
}

type Relay struct {
	inbox   chan Msg
	state   *engine.Manager
	handler *events.Handler
	clients map[string]chan types.BarEvent
	journal *journal.Writer
	metrics *telemetry.Metrics
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Relay)

func WithLogger(log *zap.Logger) Option {
	return func(r *Relay) { r.log = log }
}

func WithJournal(w *journal.Writer) Option {
	return func(r *Relay) { r.journal = w }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func New(parent context.Context, state *engine.Manager, handler *events.Handler, opts ...Option) *Relay {
	ctx, cancel := context.WithCancel(parent)

	r := &Relay{
		inbox:   make(chan Msg, 64),
		state:   state,
		handler: handler,
		clients: make(map[string]chan types.BarEvent),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("component", "relay"))

	go r.loop()
	return r
}

func (r *Relay) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Submit:
				r.handler.Handle(r.ctx, msg.Event, events.BroadcastFunc(r.broadcast))

			case Join:
				r.clients[msg.ClientID] = msg.Outbox
				r.metrics.ClientsChanged(r.ctx, 1)
				r.log.Info("client connected", zap.String("client", msg.ClientID), zap.Int("clients", len(r.clients)))
				r.send(msg.ClientID, msg.Outbox, r.syncEvent())

			case Leave:
				if _, ok := r.clients[msg.ClientID]; ok {
					delete(r.clients, msg.ClientID)
					r.metrics.ClientsChanged(r.ctx, -1)
					r.log.Info("client disconnected", zap.String("client", msg.ClientID), zap.Int("clients", len(r.clients)))
				}

			case GetState:
				msg.Reply <- View{
					NumClients: len(r.clients),
					State:      r.state.StateSyncPayload(),
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Relay) syncEvent() types.BarEvent {
	ev, err := types.NewEvent(types.EvtStateSync, r.state.StateSyncPayload())
	if err != nil {
		// StateSyncPayload holds only strings and numbers
		r.log.Error("encode state:sync", zap.Error(err))
	}
	return ev
}

func (r *Relay) shutdown() {
	for id, ch := range r.clients {
		close(ch) // no more events for this client
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Relay) broadcast(ctx context.Context, ev types.BarEvent) {
	r.journal.Record(ev)
	for id, ch := range r.clients {
		r.send(id, ch, ev)
	}
}

// send drops a client whose outbox is full. It reconnects and resyncs.
func (r *Relay) send(id string, ch chan types.BarEvent, ev types.BarEvent) {
	select {
	case ch <- ev:
	default:
		r.log.Warn("client too slow, dropping", zap.String("client", id))
		close(ch)
		delete(r.clients, id)
		r.metrics.ClientsChanged(r.ctx, -1)
	}
}

// Inbox exposes the raw message channel, mostly for tests.
func (r *Relay) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) post(ctx context.Context, m Msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues ev without waiting for it to be handled.
func (r *Relay) Submit(ctx context.Context, ev types.BarEvent) error {
	return r.post(ctx, Submit{Event: ev})
}

func (r *Relay) Join(ctx context.Context, clientID string, outbox chan types.BarEvent) error {
	return r.post(ctx, Join{ClientID: clientID, Outbox: outbox})
}

func (r *Relay) Leave(ctx context.Context, clientID string) error {
	return r.post(ctx, Leave{ClientID: clientID})
}

// State returns a race-free view of the authoritative state.
func (r *Relay) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close stops the loop and waits for it to exit.
func (r *Relay) Close() {
	r.cancel()
	<-r.done
}
