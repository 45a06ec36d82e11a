package misskey

import (
	"fmt"
	"time"

	"antennarelay/internal/domain"

	"github.com/gorilla/websocket"
)

// startKeepalive pings the server every PingInterval. Any inbound frame or
// pong pushes the read deadline PongTimeout into the future; when it passes,
// the blocked read fails and the connection is torn down.
func (c *Client) startKeepalive() {
	if c.opts.PingInterval <= 0 {
		return
	}

	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	c.wg.Add(1)
	go c.pingLoop()
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				c.shutdown(fmt.Errorf("%w: send ping: %w", domain.ErrTransport, err))
				return
			}
		}
	}
}

func (c *Client) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
}
