package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"breakout-platform/pkg/protocol"
	"breakout-platform/pkg/wsutils"
)

var ErrNotSubscribed = errors.New("relay client is not subscribed")

const pingInterval = 30 * time.Second

// Client connects a single process to the relay hub over a websocket and
// implements the Relay port. One subscription per client; the connection is
// dialed on Subscribe and torn down by the returned unsubscribe func.
type Client struct {
	baseURL string
	logger  *slog.Logger

	mu   sync.Mutex
	conn *wsutils.ThreadSafeWriter
}

type NewClientParams struct {
	RelayURL string
	Logger   *slog.Logger
}

func NewClient(params NewClientParams) *Client {
	return &Client{
		baseURL: params.RelayURL,
		logger:  params.Logger,
	}
}

func (c *Client) Publish(_ context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotSubscribed
	}
	return conn.WriteEnvelope(env)
}

func (c *Client) Subscribe(ctx context.Context, roomContext protocol.RoomContextID, fn func(protocol.Envelope)) (func(), error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/%s", c.baseURL, roomContext), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	w := wsutils.NewThreadSafeWriter(conn)

	c.mu.Lock()
	c.conn = w
	c.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	groupCtx, cancel := context.WithCancel(groupCtx)

	group.Go(func() error {
		for {
			env, err := w.ReadEnvelope()
			if err != nil {
				return err
			}
			fn(env)
		}
	})

	group.Go(func() error {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
				if err := w.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					return err
				}
			}
		}
	})

	go func() {
		<-groupCtx.Done()
		w.Close()
	}()

	go func() {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("relay subscription closed", slog.String("error", err.Error()))
		}
	}()

	unsubscribe := func() {
		cancel()
		c.mu.Lock()
		if c.conn == w {
			c.conn = nil
		}
		c.mu.Unlock()
	}
	return unsubscribe, nil
}

var _ protocol.Relay = (*Client)(nil)
