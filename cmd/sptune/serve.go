package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sptune/internal/api"
	"github.com/samcharles93/sptune/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		storeLimit  int64
		eager       bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the translation REST API",
		Flags: append(append(append(backboneFlags(), promptFlags()...), generationFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "store-limit",
				Usage:       "translations kept for GET /v1/translations/:id",
				Value:       1024,
				Destination: &storeLimit,
			},
			&cli.BoolFlag{
				Name:        "eager",
				Usage:       "load the model before accepting requests",
				Destination: &eager,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			applyGenerationConfig(cmd, fileConfig)
			applyServeConfig(cmd, fileConfig, &addr)

			provider := api.NewCachedProvider(func(ctx context.Context) (*api.Pipeline, error) {
				return loadPipeline(logger.WithContext(ctx, log), false)
			}, log)
			if eager {
				if err := provider.WithPipeline(ctx, func(*api.Pipeline) error { return nil }); err != nil {
					return err
				}
			}

			server := api.NewServer(api.NewTranslationStore(int(storeLimit)), provider)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "backbone", backboneSource)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
