package main

import (
	"fmt"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/groupclaes/pcm-api-i/config"
	"github.com/groupclaes/pcm-api-i/delivery"
	"github.com/groupclaes/pcm-api-i/invalidate"
	"github.com/groupclaes/pcm-api-i/queue"
	"github.com/groupclaes/pcm-api-i/resolver"
	"github.com/groupclaes/pcm-api-i/server"
	"github.com/groupclaes/pcm-api-i/transcode"
)

func newServeCmd() *cobra.Command {
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the image HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			tables, err := cfg.Tables()
			if err != nil {
				return err
			}
			backend, err := resolver.Open(ctx, cfg.LookupDSN)
			if err != nil {
				return errors.Wrap(err, "lookup database")
			}
			if backend != nil {
				defer backend.Close()
			} else {
				log.Warn("no lookup database, only raw identities resolve")
			}
			decoder, err := tokenDecoder(cfg)
			if err != nil {
				return err
			}
			if dev {
				log.Warn("development mode, anyone may flush")
				decoder = server.NewNobodyDecoder()
			}

			s := &server.RESTServer{
				PortNumber:   cfg.Port,
				PProfPort:    cfg.PProfPort,
				AppVersion:   cfg.AppVersion,
				Service:      cfg.ServiceName,
				DataPath:     cfg.DataPath,
				RedirectBase: cfg.RedirectBase,
				CacheEnabled: cfg.CacheEnabled,
				Tables:       tables,
				Resolver:     resolver.New(backend, log),
				Pipeline: &delivery.Pipeline{
					Tables: tables,
					Imager: transcode.New(cfg.MaxConcurrentTranscodes, log),
					Clock:  clock.New(),
					Stats:  server.ExpvarStats,
				},
				Sweeper: invalidate.NewSweeper(contentRoot(cfg), cfg.SweepRate, log),
				Decoder: decoder,
				Log:     log,
				Stats:   server.ExpvarStats,
			}
			if cfg.RedisAddr != "" {
				qc := queue.NewClient(cfg.RedisAddr)
				defer qc.Close()
				s.Queue = qc
			}

			go func() {
				<-ctx.Done()
				log.Info("shutting down")
				s.Stop()
			}()
			return s.Run()
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "accept any token on administrative routes")
	return cmd
}

// tokenDecoder picks how flush tokens are checked: signed tokens when a
// secret is configured, else a token list file. With neither it returns nil
// and the server refuses every flush.
func tokenDecoder(cfg *config.Config) (server.TokenDecoder, error) {
	switch {
	case cfg.JWTSecret != "":
		return server.NewJWTDecoder([]byte(cfg.JWTSecret)), nil
	case cfg.TokenFile != "":
		d, err := server.NewListDecoderFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("token file %s: %w", cfg.TokenFile, err)
		}
		return d, nil
	}
	return nil, nil
}

func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run flushes queued by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return errors.New("no redis address configured (PCM_REDIS_ADDR)")
			}
			w := &queue.Worker{
				Addr:        cfg.RedisAddr,
				Concurrency: concurrency,
				Sweeper:     invalidate.NewSweeper(contentRoot(cfg), cfg.SweepRate, log),
				Log:         log,
			}
			log.Info("starting worker", "redis", cfg.RedisAddr, "data", cfg.DataPath)
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "number of flushes run at once")
	return cmd
}
