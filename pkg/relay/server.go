package relay

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/catalog-chat/pkg/turnbus"
)

const shutdownTimeout = 30 * time.Second

// Server drives the HTTP server, the turn auditor and graceful shutdown.
type Server struct {
	router          *Router
	httpSrv         *http.Server
	bus             *turnbus.Bus
	auditor         *turnbus.Auditor
	closers         []io.Closer
	shutdownTimeout time.Duration
}

type ServerOption func(*Server) error

// WithTurnBus runs an auditor over bus and closes bus on shutdown.
func WithTurnBus(bus *turnbus.Bus, auditor *turnbus.Auditor) ServerOption {
	return func(s *Server) error {
		if bus == nil {
			return errors.New("turn bus is nil")
		}
		s.bus = bus
		s.auditor = auditor
		return nil
	}
}

// WithCloser registers a resource closed after the HTTP server stopped.
func WithCloser(c io.Closer) ServerOption {
	return func(s *Server) error {
		if c != nil {
			s.closers = append(s.closers, c)
		}
		return nil
	}
}

func withShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) error {
		s.shutdownTimeout = d
		return nil
	}
}

func NewServer(addr string, r *Router, opts ...ServerOption) (*Server, error) {
	if r == nil {
		return nil, errors.New("router is nil")
	}
	s := &Server{
		router:          r,
		shutdownTimeout: shutdownTimeout,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
			// no write timeout: run streams stay open as long as the turn lasts
		},
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, errors.Wrap(err, "relay server")
		}
	}
	return s, nil
}

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	if s.auditor != nil {
		if err := s.auditor.Start(srvCtx); err != nil {
			return errors.Wrap(err, "start turn auditor")
		}
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		err := s.httpSrv.Shutdown(shutdownCtx)
		if err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			// drop the streams that outlived the timeout
			_ = s.httpSrv.Close()
		}
		s.closeResources()
		if err != nil {
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting relay server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}

// closeResources stops the auditor and closes the bus and the registered
// closers. It runs whether or not the HTTP shutdown finished in time.
func (s *Server) closeResources() {
	if s.auditor != nil {
		<-s.auditor.Done()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Error().Err(err).Msg("turn bus close error")
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
}
