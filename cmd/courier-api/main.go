// README: Entry point; cobra commands for serving the API, applying migrations and minting dev tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/infra"
	"courier/internal/logging"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "courier-api",
		Short: "Real-time driver tracking and delivery assignment service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file; COURIER_* env vars override it")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP and WebSocket API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply SQL migrations to db.dsn",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context())
			},
		},
		tokenCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required to migrate")
	}
	log := logging.New(cfg.Log)
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := infra.ApplyMigrations(ctx, db, cfg.DB.MigrationsDir); err != nil {
		return err
	}
	log.Info("migrations applied", "dir", cfg.DB.MigrationsDir)
	return nil
}

func tokenCommand() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Sign a development JWT with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cfg.Auth.Mode != "jwt" {
				return fmt.Errorf("token signing needs auth.mode=jwt, got %q", cfg.Auth.Mode)
			}
			tok, err := infra.SignJWT(cfg.Auth.JWTSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "driver", "role claim (driver or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
