package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

const (
	handshakeWait  = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Server upgrades HTTP requests and relays every received message to all
// clients
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader
	metrics  *metrics.Collector
	logger   watchlog.Logger
}

// NewServer serves connections into registry
func NewServer(registry *Registry, m *metrics.Collector, logger watchlog.Logger) *Server {
	if logger == nil {
		logger = watchlog.L()
	}
	return &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// presence viewers are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics: m,
		logger:  logger.Named("relay"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", watchlog.String("remote", r.RemoteAddr), watchlog.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	sess, err := s.register(conn)
	if err != nil {
		s.logger.Warn("Rejected connection", watchlog.String("remote", r.RemoteAddr), watchlog.Error(err))
		return
	}
	logger := s.logger.With(watchlog.String("session", sess.ID), watchlog.String("role", string(sess.Role)))
	logger.Info("Connected")

	defer func() {
		if s.registry.Remove(sess) {
			s.updateGauge()
			logger.Info("Disconnected")
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Websocket error", watchlog.Error(err))
			}
			return
		}
		logger.Debug("Relaying message", watchlog.Int("bytes", len(msg)))
		s.Broadcast(msg)
	}
}

var errUnknownRole = errors.New("unknown connection type")

// register reads the role frame and acknowledges it with "OK"
func (s *Server) register(conn *websocket.Conn) (*Session, error) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeWait)); err != nil {
		return nil, err
	}
	_, first, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	role := Role(first)
	if role != RoleClient && role != RoleDetector {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown connection type")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil, errUnknownRole
	}

	sess := newSession(conn, role)
	if err := sess.Send([]byte("OK")); err != nil {
		return nil, err
	}
	s.registry.Add(sess)
	s.updateGauge()
	return sess, nil
}

// Broadcast sends msg to every client concurrently and waits for all
// writes. A client that cannot be written to is closed; its read loop then
// unregisters it.
func (s *Server) Broadcast(msg []byte) {
	clients := s.registry.Clients()
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Session) {
			defer wg.Done()
			if err := c.Send(msg); err != nil {
				s.logger.Warn("Dropping client", watchlog.String("session", c.ID), watchlog.Error(err))
				c.conn.Close()
			}
		}(c)
	}
	wg.Wait()
}

func (s *Server) updateGauge() {
	clients, _ := s.registry.Counts()
	s.metrics.SetRelayClients(clients)
}

// ListenAndServe runs the relay on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening", watchlog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
