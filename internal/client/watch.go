package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStopWatch may be returned by a watch handler to end Watch cleanly.
var ErrStopWatch = errors.New("stop watch")

// Frame is one message received over the websocket bridge.
type Frame struct {
	Type string
	Data json.RawMessage
}

// WatchOptions configures Watch.
type WatchOptions struct {
	// SubscriberID resumes a previous subscriber within its grace period.
	SubscriberID string
	Topics       []string
	Dialer       *websocket.Dialer
}

// WebSocketURL turns an http(s) API base URL into the bridge URL.
func WebSocketURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/ws"
}

// Watch connects to the websocket bridge at wsURL and calls fn for every
// frame, hello_ack included, until ctx ends, the connection drops or fn
// returns an error.
func Watch(ctx context.Context, wsURL string, opts WatchOptions, fn func(Frame) error) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	if opts.SubscriberID != "" {
		q.Set("subscriber_id", opts.SubscriberID)
	}
	for _, topic := range opts.Topics {
		q.Add("topic", topic)
	}
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		if err := fn(Frame{Type: base.Type, Data: data}); err != nil {
			if errors.Is(err, ErrStopWatch) {
				return nil
			}
			return err
		}
	}
}
