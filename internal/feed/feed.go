// Package feed subscribes to the upstream block stream over a websocket.
// The subscription starts with a {"cursor": "..."} handshake and then
// receives one JSON block per text message.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"kgsink/internal/events"
	"kgsink/internal/retry"
)

var (
	// ErrDisconnected wraps every failure of the connection itself. Run
	// reconnects on it.
	ErrDisconnected = errors.New("feed disconnected")
	ErrBadMessage   = errors.New("feed message")
)

const (
	defaultReadTimeout = 2 * time.Minute
	writeTimeout       = 10 * time.Second
)

// Handler processes one block. Returning an error stops Run without
// advancing the cursor past the block.
type Handler func(ctx context.Context, block events.Block) error

type handshake struct {
	Cursor string `json:"cursor"`
}

type Client struct {
	url         string
	header      http.Header
	dialer      *websocket.Dialer
	retry       retry.Policy
	readTimeout time.Duration
}

func NewClient(url string, policy retry.Policy) *Client {
	return &Client{
		url:         url,
		dialer:      websocket.DefaultDialer,
		retry:       policy,
		readTimeout: defaultReadTimeout,
	}
}

// WithHeader sets headers sent on every dial, such as an API token.
func (c *Client) WithHeader(header http.Header) *Client {
	c.header = header
	return c
}

// Run streams blocks starting after cursor until ctx is done, the handler
// fails or a reconnect runs out of attempts. The attempt budget resets
// whenever a connection delivers a block.
func (c *Client) Run(ctx context.Context, cursor string, handle Handler) error {
	policy := c.retry
	policy.Retryable = func(err error) bool {
		return errors.Is(err, ErrDisconnected)
	}
	policy.OnRetry = func(err error, attempt int) {
		log.Printf("feed: reconnect attempt=%d cursor=%q err=%v", attempt, cursor, err)
	}

	for {
		err := policy.Do(ctx, func(ctx context.Context) error {
			delivered, err := c.stream(ctx, &cursor, handle)
			if delivered && errors.Is(err, ErrDisconnected) {
				// Progress was made; start a fresh attempt budget.
				return errProgress
			}
			return err
		})
		if errors.Is(err, errProgress) {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
}

// errProgress ends a retry round after a connection that delivered blocks.
var errProgress = errors.New("feed progressed")

// stream runs one connection. It reports whether any block was handled.
func (c *Client) stream(ctx context.Context, cursor *string, handle Handler) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return false, fmt.Errorf("%w: dial %s: %v", ErrDisconnected, c.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		conn.Close()
	})
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(handshake{Cursor: *cursor}); err != nil {
		return false, fmt.Errorf("%w: send handshake: %v", ErrDisconnected, err)
	}
	log.Printf("feed: subscribed url=%s cursor=%q", c.url, *cursor)

	delivered := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, fmt.Errorf("%w: read: %v", ErrDisconnected, err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		block, err := events.ParseBlock(data)
		if err != nil {
			return delivered, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if err := handle(ctx, block); err != nil {
			return delivered, fmt.Errorf("handle block %d: %w", block.Number, err)
		}
		delivered = true
		if block.Cursor != "" {
			*cursor = block.Cursor
		}
	}
}
