// Package relay is the signaling server. It assigns ids to websocket
// connections, keeps the list of named peers and forwards handshake
// signals between them without inspecting their payload.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nearsend/nearsend/internal/protocol"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 64 * 1024
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	config   Config
	logger   logrus.FieldLogger
	registry *Registry
	metrics  *metrics
	codec    *protocol.Codec

	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		registry: registry,
		metrics:  newMetrics(registry),
		codec:    protocol.NewCodec(),
		listener: ln,
		conns:    make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     cfg.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Registry exposes the peer registry, mainly for tests and metrics.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start serves until ctx is cancelled or the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.Addr()).Info("Relay server started")

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		defer cancel()
		err := s.http.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown stops accepting connections and closes every open websocket.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down relay server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	return err
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("Websocket upgrade failed")
		return
	}
	s.track(conn, true)
	defer s.track(conn, false)
	s.metrics.connections.Inc()

	out := newQueue()
	id := s.registry.Connect(out)
	log := s.logger.WithField("peer", id)
	log.WithField("remote", r.RemoteAddr).Info("Peer connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(conn, out, log)
	}()

	s.readLoop(conn, id, out, log)

	if s.registry.Disconnect(id) {
		log.Info("Peer left")
	}
	out.close()
	<-done
	_ = conn.Close()
	log.Info("Peer disconnected")
}

func (s *Server) readLoop(conn *websocket.Conn, id string, out Outbox, log logrus.FieldLogger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(s.config.SignalRate, s.config.SignalBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("Websocket read failed")
			}
			return
		}

		msg, err := s.codec.DecodeFromBytes(data)
		if err != nil {
			s.metrics.malformed.Inc()
			log.WithError(err).Debug("Dropping malformed message")
			continue
		}
		s.metrics.messages.WithLabelValues(msg.Type().String()).Inc()

		s.handleMessage(id, msg, out, limiter, log)
	}
}

func (s *Server) handleMessage(id string, msg protocol.Message, out Outbox, limiter *rate.Limiter, log logrus.FieldLogger) {
	switch m := msg.(type) {
	case *protocol.Join:
		if !s.registry.Join(id, m.Name) {
			log.Debug("Ignoring join with invalid name")
			return
		}
		s.metrics.joins.Inc()
		log.WithField("name", m.Name).Info("Peer joined")

	case *protocol.Signal:
		if !limiter.Allow() {
			s.metrics.signals.WithLabelValues("rate_limited").Inc()
			log.WithField("target", m.Target).Warn("Signal rate limit exceeded")
			out.Send(&protocol.ErrorMessage{Message: "Signal rate limit exceeded, message dropped."})
			return
		}
		if !s.registry.Relay(id, m.Target, m.Payload) {
			s.metrics.signals.WithLabelValues("undeliverable").Inc()
			log.WithField("target", m.Target).Warn("Signal target not found")
			return
		}
		s.metrics.signals.WithLabelValues("relayed").Inc()
		log.WithField("target", m.Target).Debug("Relayed signal")

	default:
		log.WithField("type", msg.Type().String()).Warn("Unhandled message type")
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, out *queue, log logrus.FieldLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-out.notify:
			batch, closed := out.drain()
			for _, msg := range batch {
				data, err := s.codec.EncodeToBytes(msg)
				if err != nil {
					log.WithError(err).Error("Failed to encode message")
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.WithError(err).Debug("Websocket write failed")
					out.close()
					_ = conn.Close()
					return
				}
			}
			if closed {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Debug("Websocket ping failed")
				out.close()
				_ = conn.Close()
				return
			}
		}
	}
}
