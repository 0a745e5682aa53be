package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"latencyd/src/config"
	"latencyd/src/logging"
	"latencyd/src/server"
	"latencyd/src/version"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port     string
		capacity int
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("window") {
				cfg.WindowCapacity = capacity
			}
			return run(cfg)
		},
	}
	serve.Flags().StringVarP(&port, "port", "p", "8080", "listen port (overrides PORT)")
	serve.Flags().IntVar(&capacity, "window", 1000, "latency samples kept (overrides WINDOW_CAPACITY)")

	root := &cobra.Command{
		Use:     "latencyd",
		Short:   "Inference API with rolling latency percentiles",
		Version: version.Version,
		// bare `latencyd` behaves like `latencyd serve`
		RunE: serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	})
	return root
}

func run(cfg config.Config) error {
	logging.Configure(cfg.AppEnv, cfg.LogLevel)
	app := server.New(cfg)

	// HTTP Server configuration
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logging.Log.WithFields(logrus.Fields{
			"addr":            srv.Addr,
			"window_capacity": app.Window.Capacity(),
			"rate_limit_rps":  cfg.RateLimitRPS,
			"version":         version.Version,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	return waitForShutdown(srv, app, errs)
}

func waitForShutdown(srv *http.Server, app *server.Server, errs <-chan error) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case <-stop:
		logging.Log.Info("shutting down...")
	case runErr = <-errs:
		logging.Log.WithError(runErr).Error("http server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The stream holds hijacked connections that Shutdown does not track.
	app.Stream.Close()
	_ = srv.Shutdown(ctx)
	if err := app.Close(ctx); err != nil {
		logging.Log.WithError(err).Warn("background tasks did not drain")
	}
	return runErr
}
