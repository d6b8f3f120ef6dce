package main

import (
	"github.com/spf13/cobra"
	rtmp "github.com/torresjeff/rtmplive"
	"github.com/torresjeff/rtmplive/dvr"
	"github.com/torresjeff/rtmplive/internal/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the RTMP server and, when enabled, the stats API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Info("configuration loaded",
				zap.String("listen", cfg.Listen),
				zap.Uint32("chunkSize", cfg.ChunkSize),
				zap.Bool("gopCache", cfg.Stream.GopCache),
				zap.String("timeJitter", cfg.Stream.TimeJitter),
				zap.Bool("dvr", cfg.DVR.Enabled),
				zap.Bool("httpAPI", cfg.HTTPAPI.Enabled),
			)

			server := &rtmp.Server{
				Config:          cfg,
				Logger:          logger,
				RecorderFactory: dvr.NewFactory(cfg.DVR, logger.Named("dvr")),
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return server.ListenAndServe(ctx)
			})
			if cfg.HTTPAPI.Enabled {
				stats := api.New(server, cfg.HTTPAPI, logger.Named("api"))
				g.Go(func() error {
					return stats.ListenAndServe(ctx, cfg.HTTPAPI.Listen)
				})
			}

			err := g.Wait()
			logger.Info("shut down", zap.Int64("sessions", server.Sessions()))
			return err
		},
	}
}
