// Package server hosts the poker HTTP/WebSocket process.
//
// The transport stays thin: it authenticates callers, decodes requests, and
// delegates every session mutation and read to the poker application service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/pointing.space/internal/auth"
	"github.com/louisbranch/pointing.space/internal/platform/timeouts"
	"github.com/louisbranch/pointing.space/internal/poker/app"
	"github.com/louisbranch/pointing.space/internal/poker/broadcast"
	"github.com/louisbranch/pointing.space/internal/poker/storage/sqlite"
)

const (
	tokenCookieName = "ps_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config defines the inputs for the poker transport boundary.
type Config struct {
	HTTPAddr string
	DBPath   string
	// AuthSecret enables HS256 token verification on every request. When
	// empty, requests identify themselves through the X-User-Id header,
	// which is only acceptable behind a trusted proxy or in tests.
	AuthSecret        string
	AuthIssuer        string
	Authorizer        auth.Authorizer
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the poker HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// NewServer builds a configured poker server with durable sqlite storage.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open poker store: %w", err)
	}

	service := app.NewService(app.Stores{
		Session: store,
		Vote:    store,
		Tasks:   store,
	}, broadcast.NewRegistry(), config.Authorizer)

	var verifier *auth.VerifierConfig
	if secret := strings.TrimSpace(config.AuthSecret); secret != "" {
		verifier = &auth.VerifierConfig{
			Secret: []byte(secret),
			Issuer: strings.TrimSpace(config.AuthIssuer),
		}
	} else {
		log.Printf("poker: token verification disabled, trusting X-User-Id header")
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(service, verifier),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a poker server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init poker server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve poker: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("poker server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("poker server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close poker store: %v", err)
		}
	}
}
