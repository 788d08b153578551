package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/warp/task-ledger/api"
	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/metrics"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides server.port)")
	serveCmd.Flags().StringSlice("cors-origin", nil, "allowed CORS origins")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the session ticker",
	Long: `Start the HTTP API. Active task sessions are advanced by a background
ticker every session.tick_interval; a session whose viewing surface stops
heartbeating for session.heartbeat_timeout is abandoned without reward.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, stops the ticker and closes the database.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	a, err := openApp(context.Background(), engine.WithListener(m))
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}
	origins, _ := cmd.Flags().GetStringSlice("cors-origin")

	ticker := api.NewSessionTicker(a.store, a.handler.Sessions)
	ticker.Interval = a.cfg.TickInterval()
	ticker.Metrics = m
	ticker.Start()

	router := api.NewRouter(a.handler, api.RouterOptions{AllowedOrigins: origins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on http://localhost:%d", port)
		log.Printf("[Server] Metrics at http://localhost:%d/metrics", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		ticker.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("[Server] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[Server] Forced shutdown: %v", err)
	}
	ticker.Stop()

	log.Println("[Server] Stopped")
	return nil
}
