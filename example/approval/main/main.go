// Command approval serves the equipment approval workflow over HTTP with
// realtime progress events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	cronlib "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "approval",
		Short:         "Equipment approval workflow server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server and the timeout sweep",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := LoadConfig(configPath)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Resume timed-out instances once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := LoadConfig(configPath)
				if err != nil {
					return err
				}
				return sweepOnce(cmd.Context(), cfg)
			},
		},
	)

	return root
}

func serve(parent context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Background runs are not cut short by the shutdown signal
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	srv := newServer(runCtx, app.Orchestrator, app.Hub, cfg.Realtime, app.Logger)
	httpApp := fiber.New()
	srv.registerRoutes(httpApp)

	var scheduler *cronlib.Cron
	if cfg.Sweep.Schedule != "" {
		scheduler = cronlib.New(
			cronlib.WithParser(scheduleParser),
			cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)),
		)
		if _, err := scheduler.AddFunc(cfg.Sweep.Schedule, func() {
			// Errors are logged by the job
			_ = app.Sweep.Run(runCtx)
		}); err != nil {
			return fmt.Errorf("failed to schedule sweep: %w", err)
		}
		scheduler.Start()
		app.Logger.Info().Str("schedule", cfg.Sweep.Schedule).Msg("Timeout sweep scheduled")
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info().Str("address", cfg.Server.Addr).Msg("Starting HTTP server")
		errCh <- httpApp.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	app.Logger.Info().Msg("Shutting down server...")

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	// Graceful shutdown; open streams end when the hub closes
	app.Hub.Close()
	if err := httpApp.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	srv.wait()
	app.Logger.Info().Msg("Server stopped")
	return nil
}

func sweepOnce(ctx context.Context, cfg *Config) error {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Sweep.Sweep(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("found %d timed-out instances, resumed %d in %s\n", res.Found, res.Resumed, res.Duration)
	return nil
}
