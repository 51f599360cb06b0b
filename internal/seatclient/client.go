// Package seatclient connects a device to a showtime room.  It keeps a
// reconcile.Board in line with the server over the room websocket,
// reconnecting and resyncing when the channel drops, and calls the
// booking endpoints over HTTP.
package seatclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/net/websocket"

	"github.com/iliyamo/cinema-seat-lock/internal/protocol"
	"github.com/iliyamo/cinema-seat-lock/internal/reconcile"
)

var (
	// ErrNotConnected is returned when an intent cannot be sent because
	// the room channel is down.  The board has been rolled back.
	ErrNotConnected = errors.New("room channel not connected")
	// ErrNothingSelected is returned by Commit when no seat is held.
	ErrNothingSelected = errors.New("no seats held")
)

// Logger is the structured logger the client reports connection events to.
type Logger interface {
	Infoj(j log.JSON)
	Warnj(j log.JSON)
}

// Options configures a Client.  Zero durations use the defaults.
type Options struct {
	BaseURL           string // http(s)://host:port of the server
	Token             string // bearer access token
	UserID            uint64 // echoed in request_lock; 0 omits it
	Origin            string // websocket Origin, defaults to BaseURL
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HTTPClient        *http.Client
	Logger            Logger
}

// Client is one device's connection to a showtime room.
type Client struct {
	opts       Options
	showtimeID uint64
	board      *reconcile.Board
	updates    chan protocol.Message

	mu sync.Mutex
	ws *websocket.Conn
}

// New returns a client for the showtime.  Call Run to connect.
func New(showtimeID uint64, opts Options) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Origin == "" {
		opts.Origin = opts.BaseURL
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New("seatclient")
	}
	return &Client{
		opts:       opts,
		showtimeID: showtimeID,
		board:      reconcile.NewBoard(),
		updates:    make(chan protocol.Message, 64),
	}
}

// Board returns the reconciled seat map.
func (c *Client) Board() *reconcile.Board { return c.board }

// Updates streams every server message after it was applied to the
// board.  Messages are dropped when the reader falls behind; the board
// itself is always current.
func (c *Client) Updates() <-chan protocol.Message { return c.updates }

// Run keeps the room channel open until ctx is done.  Each connection
// joins the room and rebuilds the board from the snapshot; while the
// channel is down the board refuses selections.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.ReconnectDelay
	for {
		synced, err := c.runOnce(ctx)
		c.board.Disconnected()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if synced {
			delay = c.opts.ReconnectDelay
		}
		c.opts.Logger.Warnj(log.JSON{
			"event":       "room_disconnected",
			"showtime_id": c.showtimeID,
			"error":       errString(err),
			"retry_in":    delay.String(),
		})
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > c.opts.MaxReconnectDelay {
			delay = c.opts.MaxReconnectDelay
		}
	}
}

// runOnce serves one connection.  It reports whether a snapshot was
// received so that Run can reset its backoff.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	ws, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	c.setConn(ws)
	defer func() {
		c.setConn(nil)
		_ = ws.Close()
	}()

	if err := c.send(protocol.Join(c.showtimeID)); err != nil {
		return false, err
	}

	done := make(chan struct{})
	defer close(done)
	go c.heartbeat(ctx, ws, done)

	synced := false
	for {
		var msg protocol.Message
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			return synced, err
		}
		if msg.Type == protocol.TypeInitialLocks {
			synced = true
		}
		c.board.Apply(msg)
		select {
		case c.updates <- msg:
		default:
		}
	}
}

// heartbeat pings until the connection ends.  Cancelling ctx closes the
// socket, which unblocks the reader.
func (c *Client) heartbeat(ctx context.Context, ws *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = ws.Close()
			return
		case <-t.C:
			if err := c.send(protocol.Ping()); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.opts.BaseURL + roomPath(c.showtimeID)
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	cfg, err := websocket.NewConfig(url, c.opts.Origin)
	if err != nil {
		return nil, err
	}
	cfg.Header = http.Header{}
	cfg.Header.Set("Authorization", "Bearer "+c.opts.Token)
	return cfg.DialContext(ctx)
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return websocket.JSON.Send(c.ws, msg)
}

// Select shows the seat as pending and asks the server for its lock.
func (c *Client) Select(label string) error {
	if err := c.board.Select(label); err != nil {
		return err
	}
	if err := c.send(protocol.RequestLock(c.showtimeID, label, c.opts.UserID)); err != nil {
		c.board.LockFailed(label, "disconnected")
		return err
	}
	return nil
}

// Deselect drops the seat from the selection and releases its lock.
func (c *Client) Deselect(label string) error {
	if !c.board.Deselect(label) {
		return nil
	}
	return c.send(protocol.ReleaseLock(c.showtimeID, label))
}

// Resync asks the server for a fresh snapshot of the room.
func (c *Client) Resync() error {
	return c.send(protocol.Join(c.showtimeID))
}

// Leave gives up every held seat but keeps the channel open.  The
// board stays unsynced until Resync joins the room again.
func (c *Client) Leave() error {
	if err := c.send(protocol.Leave(c.showtimeID)); err != nil {
		return err
	}
	c.board.Left()
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
