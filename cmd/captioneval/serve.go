package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/zvengin/captioneval/internal/api"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/metrics"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		storeSize   int
		noMetrics   bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve captions over HTTP",
		Flags: append(withFlags(modelFlags(), decodeFlags()),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "store-size",
				Usage:       "number of caption responses kept for GET /v1/captions/:id",
				Value:       api.DefaultStoreSize,
				Destination: &storeSize,
			},
			&cli.BoolFlag{
				Name:        "no-metrics",
				Usage:       "disable Prometheus metrics at GET /metrics",
				Destination: &noMetrics,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			applyServeConfig(cmd, fileConfig, &addr)
			log := logger.FromContext(ctx)

			model, v, err := loadModel(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg, err := decodeConfig(v)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			service, err := api.NewCaptionService(model, v, cfg, model.FeatureSize())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if seed == 0 {
				service.WithRandomSeeds()
			}
			server := api.NewServer(service, api.NewCaptionStore(storeSize), log.With("component", "api"))
			var m *metrics.Metrics
			if !noMetrics {
				m = metrics.New()
				server.WithMetrics(m)
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "strategy", cfg.Strategy, "beam_width", cfg.BeamWidth, "metrics", !noMetrics)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, m.Instrument(e, api.RouteLabel))
		},
	}
}
