// Package server exposes the relay service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samvad-hq/samvad-relay/internal/logger"
	"github.com/samvad-hq/samvad-relay/internal/relay"
	"github.com/samvad-hq/samvad-relay/internal/storage"
	"github.com/samvad-hq/samvad-relay/pkg/clientip"
	"github.com/samvad-hq/samvad-relay/pkg/request"
)

// Relayer is the slice of relay.Service the handlers call.
type Relayer interface {
	Run(ctx context.Context, call relay.Call) (relay.Result, error)
	Start(ctx context.Context, call relay.Call) (string, *request.Future)
	Abort(id string) bool
	Lookup(id string) (storage.Record, bool, error)
	Profile(id, clientIP string, ov relay.Overrides) (relay.Call, error)
}

// Server is the relay HTTP front end.
type Server struct {
	relay      Relayer
	resolver   *clientip.Resolver
	log        logger.Logger
	httpServer *http.Server
}

// New builds a server listening on addr. The connection context records the
// accepted socket so ClientIP can see it.
func New(addr string, svc Relayer, resolver *clientip.Resolver, log logger.Logger) *Server {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if resolver == nil {
		resolver = clientip.NewResolver(nil)
	}

	s := &Server{
		relay:    svc,
		resolver: resolver,
		log:      log,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ConnContext:       clientip.ConnContext,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.InfoObj("relay server listening", "server", map[string]any{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.InfoObj("relay server shutting down", "server", map[string]any{"addr": s.httpServer.Addr})
	return s.httpServer.Shutdown(ctx)
}
