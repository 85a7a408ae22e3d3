package broker

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/ticksync/ticksync/internal/broker/store"
	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/transport/quicstream"
	"github.com/ticksync/ticksync/internal/core/wire"
)

// OpenStore builds the configured storage backend.
func OpenStore(cfg Config) (store.RoomStore, error) {
	switch cfg.Store {
	case "", "jsonl":
		return store.NewJSONLStore(cfg.DataDir)
	case "sqlite":
		return store.NewSQLiteStore(filepath.Join(cfg.DataDir, "rooms.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// Server hosts the hub on an HTTP listener (WebSocket, health,
// metrics, static files) and optionally a QUIC listener.
type Server struct {
	cfg     Config
	hub     *Hub
	logger  log.Log
	metrics *Metrics

	upgrader websocket.Upgrader
	registry *prometheus.Registry
}

func NewServer(cfg Config, st store.RoomStore, logger log.Log) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With(log.String("component", "broker"))

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	return &Server{
		cfg:     cfg,
		hub:     NewHub(st, metrics, logger),
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		registry: registry,
	}
}

// Handler builds the HTTP surface: WebSocket upgrade, health,
// metrics, and the optional static front end.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	if s.cfg.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return router
}

// Run serves until ctx is cancelled, then shuts both listeners down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", log.String("addr", s.cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var quicListener *quic.Listener
	if s.cfg.QUICAddr != "" {
		ln, err := quic.ListenAddr(s.cfg.QUICAddr, selfSignedTLS(), &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("quic listen: %w", err)
		}
		quicListener = ln
		g.Go(func() error {
			s.logger.Info("listening quic", log.String("addr", s.cfg.QUICAddr))
			s.acceptQUIC(ctx, ln)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if quicListener != nil {
			_ = quicListener.Close()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", log.Error(err))
		return
	}
	conn.SetReadLimit(wire.MaxFrameSize)

	s.metrics.observeConnection(1)
	go func() {
		defer s.metrics.observeConnection(-1)
		newSession(newWSConn(conn, s.cfg.WriteTimeout), s.hub, s.logger).run()
	}()
}

func (s *Server) acceptQUIC(ctx context.Context, ln *quic.Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		go s.serveQUICConn(ctx, conn)
	}
}

// serveQUICConn runs one session per accepted stream; clients open a
// single bidirectional stream carrying newline-delimited frames.
func (s *Server) serveQUICConn(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		s.metrics.observeConnection(1)
		go func() {
			defer s.metrics.observeConnection(-1)
			newSession(wire.NewStreamConn(stream), s.hub, s.logger).run()
		}()
	}
}

// selfSignedTLS builds a throwaway certificate for the QUIC listener.
// Transport encryption only; clients do not authenticate the broker.
func selfSignedTLS() *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"ticksync"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos: []string{quicstream.ALPN},
		MinVersion: tls.VersionTLS13,
	}
}
