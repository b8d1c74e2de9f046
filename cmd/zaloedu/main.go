package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haphu2512-java/ZaloForEdu/internal/app"
	"github.com/haphu2512-java/ZaloForEdu/internal/config"
	"github.com/haphu2512-java/ZaloForEdu/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("zaloedu exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// run loads configuration, starts the application and blocks until ctx is
// done or the server fails. Configuration precedence: defaults < env < file.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("zaloedu", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON config file")
	envFile := flags.String("env-file", ".env", "path to a .env file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var extra []slog.Handler
	sentryEnabled, err := logging.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.TracesSampleRate)
	if err != nil {
		slog.Error("sentry init failed", slog.Any("error", err))
	} else if sentryEnabled {
		extra = append(extra, logging.NewSentryHandler(nil))
		defer logging.Flush(2 * time.Second)
	}
	log := logging.Setup(cfg.Log.Level, cfg.Log.Format, extra...)

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case err, ok := <-application.Errors():
			if ok && err != nil {
				return err
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return application.Stop(shutdownCtx)
	})

	return g.Wait()
}
