package api

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"
)

// ServeOptions configures the listening server.
type ServeOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration // Grace period for in-flight requests (default: 10s)
}

// Serve listens on opts.Addr until ctx is cancelled, then drains in-flight
// requests. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, opts ServeOptions) error {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln, opts)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener, opts ServeOptions) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.opts.Logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.opts.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
