package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragqa/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves POST /chat and the admin endpoints until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.warm(ctx)

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	// A chat request may wait out a full fallback fetch.
	fetchTimeout := time.Duration(a.cfg.Fallback.TimeoutSecs) * time.Second
	requestTimeout := httpapi.DefaultRequestTimeout
	if fetchTimeout+30*time.Second > requestTimeout {
		requestTimeout = fetchTimeout + 30*time.Second
	}

	h := httpapi.NewHandler(a.engine, a.admin, a.log)
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(h, httpapi.RouterOptions{
			CORSOrigins:    a.cfg.Server.CORSOrigins,
			RequestTimeout: requestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server starting", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info("server stopped")
	return nil
}
