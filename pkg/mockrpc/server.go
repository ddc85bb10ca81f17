package mockrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/entrhq/authharness/pkg/logging"
)

// Server serves the RPC handler on a TCP listener.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger

	done     chan struct{}
	mu       sync.Mutex
	serveErr error
}

// Listen binds addr (":4000", "127.0.0.1:0", ...) and starts serving in the
// background.
func Listen(addr string, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard("mockrpc")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		server: &http.Server{
			Handler:           NewHandler(logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		listener: ln,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
			logger.Errorf("mock RPC server stopped: %v", err)
		}
	}()

	logger.Infof("mock RPC server running on %s", s.URL())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// URL returns the RPC endpoint, always on localhost.
func (s *Server) URL() string {
	port := 0
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, Path)
}

// Shutdown stops the server and waits for the serve loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to stop mock RPC server: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}
