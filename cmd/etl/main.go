// Command etl runs the taxi trip batch pipeline, either a full run, a single
// stage, or as a long-running service that exposes stage triggers over HTTP.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	httpadapter "github.com/couchcryptid/taxi-trip-etl/internal/adapter/http"
	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/pipeline"
	"github.com/joho/godotenv"
)

type cli struct {
	EnvFile string `name:"env-file" help:"Optional dotenv file loaded before configuration." default:".env" type:"path"`

	Run     runCmd   `cmd:"" default:"1" help:"Run every stage in order."`
	Process stageCmd `cmd:"" help:"Validate the raw trips and write the processed dataset."`
	Enrich  stageCmd `cmd:"" help:"Join processed trips to hourly weather."`
	Train   stageCmd `cmd:"" help:"Fit the trip duration model and write its metrics."`
	Load    stageCmd `cmd:"" help:"Replace-load the enriched trips into the warehouse."`
	Publish stageCmd `cmd:"" help:"Publish the enriched trips to Kafka."`
	Serve   serveCmd `cmd:"" help:"Serve health, metrics and stage trigger endpoints."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("etl"),
		kong.Description("NYC taxi trip ETL: validate, enrich with weather, train, load."),
		kong.UsageOnError(),
	)

	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", c.EnvFile, "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(cfg); err != nil {
		stop()
		os.Exit(1)
	}
}

type runCmd struct{}

func (runCmd) Run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{warehouse: true})
	if err != nil {
		slog.Error("failed to start", "error", err)
		return err
	}
	defer a.close()

	err = a.pipeline.Run(ctx)
	a.push()
	return err
}

type stageCmd struct{}

func (stageCmd) Run(ctx context.Context, cfg *config.Config, kctx *kong.Context) error {
	name := kctx.Command()
	a, err := newApp(ctx, cfg, appOptions{warehouse: name == pipeline.StageLoad})
	if err != nil {
		slog.Error("failed to start", "error", err)
		return err
	}
	defer a.close()

	result, err := a.pipeline.RunStage(ctx, name)
	a.push()
	if err != nil {
		a.logger.Error("stage failed", "stage", name, "error", err)
		return err
	}
	a.logger.Info("stage finished", "stage", name, "result", result)
	return nil
}

type serveCmd struct{}

func (serveCmd) Run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{warehouse: true})
	if err != nil {
		slog.Error("failed to start", "error", err)
		return err
	}
	defer a.close()

	srv := httpadapter.NewServer(cfg.HTTPAddr, a.pipeline, a.pipeline, a.logger)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return err
}
