package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchPongWait  = 60 * time.Second
	watchReadLimit = 1 << 20
)

// Watch streams registry events matching pattern (empty for node changes)
// to handler until ctx is done or the connection drops. It returns nil when
// ctx ends the stream.
func (c *Client) Watch(ctx context.Context, pattern string, handler func(Event)) error {
	wsURL, err := c.buildWatchURL(pattern)
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	header := http.Header{}
	if c.authHeader != "" {
		header.Set("Authorization", c.authHeader)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed: status=%d, err=%w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(watchReadLimit)
	conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(watchPongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			continue // Skip malformed messages
		}
		handler(ev)
	}
}

// buildWatchURL builds the WebSocket URL of the registry watch stream.
func (c *Client) buildWatchURL(pattern string) (string, error) {
	u, err := url.Parse(c.apiURL("/registry/watch"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	// Convert http(s) to ws(s)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}

	if pattern != "" {
		q := u.Query()
		q.Set("pattern", pattern)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
