package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/likeablob/infinite-mucha-esque-scroll/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for tile generation API",
	Long: `Start an HTTP server that paints scroll tiles on request.

The generation flags of the root command become the defaults of every request.

Examples:
  # Start server on default port 8080
  mucha-scroll serve

  # Start server on all interfaces, at most one generation every 5 seconds
  mucha-scroll serve --bind 0.0.0.0 --port 8080 --rate-interval 5s`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 15*time.Minute, "request timeout")
	serveCmd.Flags().Duration("rate-interval", 0, "minimum interval between generations (0 disables throttling)")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("server.rate-interval", serveCmd.Flags().Lookup("rate-interval"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")

	addr := fmt.Sprintf("%s:%d", bind, port)

	p, err := newPainter()
	if err != nil {
		return err
	}

	apiServer := server.NewServer(version, p, server.Options{
		Defaults:     tileRequest(),
		RateInterval: viper.GetDuration("server.rate-interval"),
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.NewRouter(apiServer, timeout),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Graceful shutdown
	go func() {
		<-cmd.Context().Done()

		slog.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Starting scroll server", "addr", addr, "backend", viper.GetString("server-url"))
	slog.Info("Health check", "url", fmt.Sprintf("http://%s/api/v1/health", addr))
	slog.Info("Tile endpoint", "url", fmt.Sprintf("http://%s/api/v1/tiles", addr))

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
