// Package client keeps a mirror.BarState in step with a running relay over
// its websocket, reconnecting with exponential backoff. Every reconnect
// starts with a state:sync, so nothing missed while offline is lost.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/internal/mirror"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

const readLimit = 1 << 20

type Client struct {
	url         string
	mirror      *mirror.BarState
	log         *zap.Logger
	newBackoff  func() backoff.BackOff
	dialTimeout time.Duration
	onStatus    func(connected bool)
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackoff replaces the reconnect policy. The default never gives up.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = fn }
}

// WithStatus is called whenever the connection comes up or goes down.
func WithStatus(fn func(connected bool)) Option {
	return func(c *Client) { c.onStatus = fn }
}

// New builds a client for serverURL, which may be the http base address
// ("http://localhost:3847") or the websocket address itself.
func New(serverURL string, m *mirror.BarState, opts ...Option) (*Client, error) {
	wsURL, err := WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:    wsURL,
		mirror: m,
		log:    zap.NewNop(),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		dialTimeout: 5 * time.Second,
		onStatus:    func(bool) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "client"), zap.String("url", c.url))
	return c, nil
}

// WebsocketURL maps http(s) to ws(s) and appends /ws when no path is given.
func WebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", raw)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (c *Client) URL() string { return c.url }

// Run connects and feeds the mirror until ctx is cancelled or the backoff
// policy gives up. Cancellation is not an error.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.WithContext(c.newBackoff(), ctx)

	err := backoff.RetryNotify(func() error {
		err := c.session(ctx, b)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, b, func(err error, wait time.Duration) {
		c.log.Info("disconnected, retrying", zap.Error(err), zap.Duration("wait", wait))
	})

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session is one connection lifetime. It always returns a non-nil error.
func (c *Client) session(ctx context.Context, b backoff.BackOff) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	b.Reset()
	c.log.Info("connected")
	c.onStatus(true)
	defer c.onStatus(false)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return fmt.Errorf("server closed connection: %w", err)
			}
			return err
		}

		var ev types.BarEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("malformed frame", zap.Error(err))
			continue
		}
		if err := c.mirror.Apply(ev); err != nil {
			c.log.Warn("apply event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}
