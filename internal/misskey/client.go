// Package misskey is a minimal client for the Misskey streaming API. One
// websocket connection carries any number of antenna channels.
package misskey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"antennarelay/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	streamingPath   = "/streaming"
	streamingScheme = "wss"
	tokenQueryParam = "i"

	writeWait        = 10 * time.Second
	handshakeTimeout = 30 * time.Second
	apiClientTimeout = 30 * time.Second

	defaultReadLimit = 4 << 20
)

type Options struct {
	ServiceURL *url.URL
	Token      string

	// PingInterval <= 0 disables the keepalive watchdog.
	PingInterval time.Duration
	PongTimeout  time.Duration

	VerifyAntennas bool

	// ReadLimit caps the size of one inbound frame in bytes. Zero means 4 MiB.
	ReadLimit int64

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Log        *slog.Logger
}

type Client struct {
	conn *websocket.Conn
	api  *apiClient
	opts Options
	log  *slog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[string]*Subscription
	closed        bool
	err           error

	done chan struct{}
	wg   sync.WaitGroup
}

// StreamingURL derives the websocket endpoint from the instance base URL.
func StreamingURL(serviceURL *url.URL) (*url.URL, error) {
	if serviceURL == nil || serviceURL.Host == "" {
		return nil, errors.New("service URL has no host")
	}

	streamURL := serviceURL.ResolveReference(&url.URL{Path: streamingPath})
	streamURL.Scheme = streamingScheme
	streamURL.User = nil

	return streamURL, nil
}

// Dial opens the shared streaming connection.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	streamURL, err := StreamingURL(opts.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: apiClientTimeout}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	dialURL := *streamURL
	query := dialURL.Query()
	query.Set(tokenQueryParam, opts.Token)
	dialURL.RawQuery = query.Encode()

	conn, resp, err := dialer.DialContext(ctx, dialURL.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s (status = %s): %w",
				domain.ErrConnection, streamURL, resp.Status, err)
		}

		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrConnection, streamURL, err)
	}

	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	c := &Client{
		conn: conn,
		api: &apiClient{
			baseURL: opts.ServiceURL,
			token:   opts.Token,
			http:    opts.HTTPClient,
			log:     opts.Log,
		},
		opts:          opts,
		log:           opts.Log,
		subscriptions: make(map[string]*Subscription),
		done:          make(chan struct{}),
	}

	c.startKeepalive()

	c.wg.Add(1)
	go c.readLoop()

	c.log.InfoContext(ctx, "Connected to Misskey streaming API",
		"streamingURL", streamURL.String(),
		"pingInterval", opts.PingInterval,
		"pongTimeout", opts.PongTimeout)

	return c, nil
}

// OpenFeed subscribes to an antenna timeline. The returned subscription yields
// notes in the order the server sends them. Once the client has been closed,
// OpenFeed fails with an error wrapping io.EOF.
func (c *Client) OpenFeed(ctx context.Context, antenna domain.AntennaID) (*Subscription, error) {
	if err := c.closedErr(); err != nil {
		return nil, fmt.Errorf("%w: antenna %s: %w", domain.ErrSubscription, antenna, err)
	}

	if c.opts.VerifyAntennas {
		if err := c.api.showAntenna(ctx, antenna); err != nil {
			return nil, fmt.Errorf("%w: antenna %s: %w", domain.ErrSubscription, antenna, err)
		}
	}

	sub := newSubscription(uuid.NewString(), antenna, c)
	if err := c.register(sub); err != nil {
		return nil, fmt.Errorf("%w: antenna %s: %w", domain.ErrSubscription, antenna, err)
	}

	body := connectBody{
		Channel: channelAntenna,
		ID:      sub.id,
		Params:  antennaParams{AntennaID: antenna.String()},
	}

	if err := c.send(ctx, frameTypeConnect, body); err != nil {
		c.unregister(sub.id)

		if closedErr := c.closedErr(); closedErr != nil {
			err = closedErr
		}

		return nil, fmt.Errorf("%w: connect antenna %s: %w", domain.ErrSubscription, antenna, err)
	}

	c.log.InfoContext(ctx, "Antenna channel is connected",
		"antennaID", antenna,
		"channelID", sub.id)

	return sub, nil
}

// Connected reports whether the streaming connection is still usable.
func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Err returns the reason the connection ended, or nil while it is live.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Close shuts the connection down. Open subscriptions end with io.EOF.
func (c *Client) Close() error {
	c.shutdown(io.EOF)
	c.wg.Wait()

	return nil
}

func (c *Client) register(sub *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closedErrLocked(); err != nil {
		return err
	}

	c.subscriptions[sub.id] = sub

	return nil
}

// closedErr reports why the client no longer accepts subscriptions. After an
// orderly close the error wraps io.EOF.
func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closedErrLocked()
}

func (c *Client) closedErrLocked() error {
	switch {
	case !c.closed:
		return nil
	case errors.Is(c.err, io.EOF):
		return fmt.Errorf("client is closed: %w", io.EOF)
	default:
		return fmt.Errorf("client is disconnected: %w", c.err)
	}
}

func (c *Client) unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscriptions[id]; !ok {
		return false
	}
	delete(c.subscriptions, id)

	return true
}

func (c *Client) lookup(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.subscriptions[id]
}

func (c *Client) send(ctx context.Context, frameType string, body any) error {
	f, err := newFrame(frameType, body)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frameType, err)
	}

	deadline := time.Now().Add(writeWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err = c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err = c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}

	return nil
}

// shutdown records the terminal error once, closes the socket and ends every
// open subscription with err.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	subs := c.subscriptions
	c.subscriptions = make(map[string]*Subscription)
	c.mu.Unlock()

	close(c.done)

	if errors.Is(err, io.EOF) {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.log.Info("Misskey streaming connection is closed",
			"subscriptionCount", len(subs))
	} else {
		c.log.Error("Misskey streaming connection is lost",
			"error", err,
			"subscriptionCount", len(subs))
	}

	if closeErr := c.conn.Close(); closeErr != nil {
		c.log.Debug("Failed to close websocket",
			"error", closeErr)
	}

	for _, sub := range subs {
		sub.fail(err)
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(c.readError(err))
			return
		}

		if c.opts.PingInterval > 0 {
			c.extendReadDeadline()
		}

		if err = c.handleFrame(data); err != nil {
			c.shutdown(err)
			return
		}
	}
}

func (c *Client) readError(err error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return io.EOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: connection stopped responding within %s", domain.ErrTransport, c.opts.PongTimeout)
	}

	return fmt.Errorf("%w: read frame: %w", domain.ErrTransport, err)
}

func (c *Client) handleFrame(data []byte) error {
	f, event, ok, err := decodeChannelEvent(data)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	if !ok {
		c.log.Debug("Ignoring streaming frame",
			"type", f.Type,
			"eventType", event.Type)

		return nil
	}

	n, err := decodeNote(event)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	sub := c.lookup(event.ID)
	if sub == nil {
		c.log.Debug("Dropping note for unknown channel",
			"channelID", event.ID,
			"noteID", n.ID)

		return nil
	}

	sub.push(n.toDomain())

	return nil
}
