// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
)

// DefaultShutdownTimeout is the time Run waits for running requests on shutdown
const DefaultShutdownTimeout = 5 * time.Second

// Server is an HTTP server for one listener
type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
}

// Builder is a builder helper for the Server
type Builder struct {
	// Handler is the root handler, usually a mux router. This is mandatory.
	Handler http.Handler
	// Address is the listen address, host:port
	Address string
	// TLSConfig makes the server a TLS server, see NewTLSConfig
	TLSConfig *tls.Config
	// ShutdownTimeout is the grace period for running requests. Default is
	// DefaultShutdownTimeout
	ShutdownTimeout time.Duration
}

// New creates a server. Every request gets a request logger and an access log
// entry, and panics in handlers are answered with status 500.
func New(b *Builder) *Server {
	if b.Handler == nil {
		panic("Handler is missing")
	}
	rlog := logger.Default()
	var h http.Handler = handlers.CombinedLoggingHandler(rlog.WriterLevel(logrus.DebugLevel), b.Handler)
	h = logger.Middleware(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(rlog), handlers.PrintRecoveryStack(true))(h)

	s := &Server{
		http: &http.Server{
			Addr:              b.Address,
			Handler:           h,
			TLSConfig:         b.TLSConfig,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: b.ShutdownTimeout,
	}
	if s.shutdownTimeout == 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}
	return s
}

// Secure returns true for TLS servers
func (s *Server) Secure() bool {
	return s.http.TLSConfig != nil
}

// Run listens on the configured address and serves until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return failure.Wrap(failure.KindConfig, err, "cannot listen on "+s.http.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	rlog := logger.FromContext(ctx)
	if s.Secure() {
		ln = tls.NewListener(ln, s.http.TLSConfig)
	}
	rlog.Infof("listening on %s, secure: %t", ln.Addr(), s.Secure())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return failure.Unavailable(err, "server on %s stopped", ln.Addr())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return failure.Internal(err, "shutdown of %s failed", ln.Addr())
	}
	rlog.Infof("server on %s stopped", ln.Addr())
	return nil
}
