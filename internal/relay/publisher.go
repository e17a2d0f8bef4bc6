package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// Publisher connects to a relay as a detector and sends JSON messages,
// reconnecting when the connection drops
type Publisher struct {
	url        string
	dialer     *websocket.Dialer
	maxRetries uint64
	logger     watchlog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPublisher does not dial until the first Publish
func NewPublisher(url string, logger watchlog.Logger) *Publisher {
	if logger == nil {
		logger = watchlog.L()
	}
	return &Publisher{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeWait},
		maxRetries: 3,
		logger:     logger.Named("relay-publisher"),
	}
}

// Publish encodes msg and sends it, redialing up to three times
func (p *Publisher) Publish(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, p.maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		if p.conn == nil {
			conn, err := p.dial(ctx)
			if err != nil {
				return err
			}
			p.conn = conn
		}
		if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			p.reset()
			return err
		}
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			p.reset()
			return err
		}
		return nil
	}, bo, func(err error, next time.Duration) {
		p.logger.Warn("Relay publish failed, retrying", watchlog.Duration("retry_in", next), watchlog.Error(err))
	})
}

func (p *Publisher) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(RoleDetector)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare role: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(handshakeWait)); err != nil {
		conn.Close()
		return nil, err
	}
	_, ack, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("no handshake reply: %w", err)
	}
	if string(ack) != "OK" {
		conn.Close()
		return nil, backoff.Permanent(fmt.Errorf("unexpected handshake reply %q", ack))
	}
	conn.SetReadDeadline(time.Time{})

	// detectors never receive relayed data; reading keeps control frames flowing
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	p.logger.Info("Connected to relay", watchlog.String("url", p.url))
	return conn, nil
}

// reset requires p.mu
func (p *Publisher) reset() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close drops the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	err := p.conn.Close()
	p.conn = nil
	return err
}
