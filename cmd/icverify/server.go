package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jessiemongeon1/response-verification/http"
)

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(caPath, assetsDir, listenAddr string, opts http.ServerOpts) (*Server, error) {
	srv, err := http.NewServer(caPath, assetsDir, listenAddr, opts)
	if err != nil {
		return nil, err
	}
	return &Server{srv: srv, logger: opts.Logger}, nil
}

func (s *Server) Serve() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("context done, preparing to exit")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("could not gracefully close server", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		if err := s.srv.ListenAndServe(); err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
		// Stopped by Shutdown.
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("unexpected errgroup error: %w", err)
	}

	return nil
}
