package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

const closeGracePeriod = time.Second

// WebsocketDialer opens techread channels over a websocket connection.
type WebsocketDialer struct {
	url         string
	dialTimeout time.Duration
	logger      *observability.Logger
}

// NewWebsocketDialer creates a dialer for the given wss:// endpoint.
func NewWebsocketDialer(url string, dialTimeout time.Duration, logger *observability.Logger) *WebsocketDialer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &WebsocketDialer{
		url:         url,
		dialTimeout: dialTimeout,
		logger:      logger.WithOperation("websocket"),
	}
}

// Dial performs the websocket handshake, authenticating with token.
func (d *WebsocketDialer) Dial(ctx context.Context, token string) (domain.Channel, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.dialTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("User-Agent", userAgent)

	conn, resp, err := dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, domain.AuthenticationError(fmt.Sprintf("handshake rejected with status %d", resp.StatusCode), err)
			}
		}
		return nil, domain.TransmissionError("websocket handshake failed", err)
	}

	d.logger.Debug().Str("url", d.url).Msg("Websocket connected")
	return &wsChannel{conn: conn, logger: d.logger}, nil
}

// wsChannel is a domain.Channel over one websocket connection.
type wsChannel struct {
	conn   *websocket.Conn
	logger *observability.Logger

	closeOnce sync.Once
	closeErr  error
}

// Send writes the submission as a single text frame.
func (c *wsChannel) Send(ctx context.Context, req *domain.Request) error {
	data, err := EncodeRequest(req)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return domain.TransmissionError("set write deadline", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return domain.TransmissionError("write request frame", err)
	}
	return nil
}

// Receive reads the next frame. A normal closure by the service ends the
// stream; every other read failure is a stream error.
func (c *wsChannel) Receive(ctx context.Context) (*domain.ResponseMessage, bool, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, false, domain.StreamError("set read deadline", err)
	}

	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, false, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, domain.StreamError("receive interrupted", ctxErr)
			}
			return nil, false, domain.StreamError("read response frame", err)
		}

		if msgType != websocket.TextMessage {
			c.logger.Debug().Int("frame_type", msgType).Msg("Ignoring non-text frame")
			continue
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, false, err
		}
		return msg, true, nil
	}
}

// Close sends a close frame and releases the connection. Unread messages
// are discarded. Safe to call more than once.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Msg("Close frame not delivered")
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
