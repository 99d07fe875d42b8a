// Package httpapi exposes the CRUD service over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/bgunnarsson/crudgate/internal/db"
)

// Service is what the handlers need from the CRUD layer.
type Service interface {
	Dialect() db.Dialect
	FetchRows(ctx context.Context, ref db.TableRef, limit int) ([]db.Row, error)
	FetchByKey(ctx context.Context, ref db.TableRef, key string, value any) ([]db.Row, error)
	Create(ctx context.Context, ref db.TableRef, fields db.Fields, encryptCSV string) (bool, error)
	Update(ctx context.Context, ref db.TableRef, key string, value any, fields db.Fields, encryptCSV string) (int64, error)
	Delete(ctx context.Context, ref db.TableRef, key string, value any) (int64, error)
	VerifyPassword(ctx context.Context, ref db.TableRef, userColumn, passwordColumn string, user any, password string) (bool, error)
	Diagnostics(ctx context.Context) (*db.Diagnostics, error)
	TableModel(ctx context.Context, table, schemaHint string) (string, []db.Column, bool, error)
	DatabaseStructure(ctx context.Context) (db.DatabaseStructure, error)
}

// Config holds configuration for the HTTP server.
type Config struct {
	Service      Service
	Listen       string
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	svc     Service
	listen  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		svc:     cfg.Service,
		listen:  cfg.Listen,
		timeout: cfg.QueryTimeout,
		logger:  logger,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(s.logger),
		middleware.Recoverer,
		operationTimeout(s.timeout),
	)
	s.routes(r)
	return r
}

// Serve listens on the configured address and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an already bound listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String(), "dialect", string(s.svc.Dialect()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
