package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/panyam/authgate/stores/migrations"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if migrateOnStart && cfg.Database.Driver == "postgres" {
			if err := migrations.Run(cfg.Database.DSN, "up"); err != nil {
				return err
			}
		}

		app, err := NewApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           app.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()
		slog.Info("authgate listening", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "database", cfg.Database.Driver)

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "address to listen on")
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply postgres migrations before serving")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
