package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Server is the admin HTTP listener
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds address:port and registers the admin routes
func NewServer(address string, port int, handlers *AdminHandlers) (*Server, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, handlers)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves in the background
func (s *Server) Start() {
	log.Info().Str("address", s.listener.Addr().String()).Msg("Admin server listening")
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
}

// Stop shuts the listener down, waiting for in-flight requests until ctx ends
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
