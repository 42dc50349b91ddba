package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/cloudlog/internal/config"
	"github.com/telhawk-systems/cloudlog/internal/dedup"
	"github.com/telhawk-systems/cloudlog/internal/dlq"
	"github.com/telhawk-systems/cloudlog/internal/handlers"
	"github.com/telhawk-systems/cloudlog/internal/logging"
	natsclient "github.com/telhawk-systems/cloudlog/internal/messaging/nats"
	"github.com/telhawk-systems/cloudlog/internal/ratelimit"
	"github.com/telhawk-systems/cloudlog/internal/server"
	"github.com/telhawk-systems/cloudlog/internal/service"
	"github.com/telhawk-systems/cloudlog/internal/storage"
	"github.com/telhawk-systems/cloudlog/internal/subscriber"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the normalizer service",
	Long: `Starts the HTTP normalization API and, when NATS is enabled, consumes
raw entries from cloudlog.raw.<source>.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override listen address")
	rootCmd.AddCommand(serveCmd)
}

// components holds everything serve starts so it can be shut down in reverse order.
type components struct {
	nats       *natsclient.JetStreamClient
	sink       *storage.Client
	dedup      dedup.Store
	limiter    *ratelimit.RedisLimiter
	subscriber *subscriber.Handler
}

func (c *components) close(ctx context.Context, logger *logging.Logger) {
	if c.subscriber != nil {
		if err := c.subscriber.Stop(); err != nil {
			logger.WarnContext(ctx, "failed to unsubscribe", logging.Error(err))
		}
	}
	if c.nats != nil {
		if err := c.nats.Drain(); err != nil {
			logger.WarnContext(ctx, "nats drain failed", logging.Error(err))
		}
	}
	if c.sink != nil {
		if err := c.sink.Close(ctx); err != nil {
			logger.WarnContext(ctx, "opensearch flush failed", logging.Error(err))
		}
	}
	if c.dedup != nil {
		_ = c.dedup.Close()
	}
	if c.limiter != nil {
		_ = c.limiter.Close()
	}
}

func buildProcessor(ctx context.Context, cfg *config.Config, logger *logging.Logger, c *components) (*service.Processor, handlers.DLQBrowser, error) {
	pipelines, err := service.BuildPipelines(cfg.Sources, logger)
	if err != nil {
		return nil, nil, err
	}
	if len(pipelines) == 0 {
		return nil, nil, errors.New("no sources enabled")
	}

	var opts []service.Option
	opts = append(opts, service.WithLogger(logger))

	if cfg.NATS.Enabled {
		c.nats, err = natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.NATS.Publish {
			opts = append(opts, service.WithPublisher(c.nats))
		}
	}

	var browser handlers.DLQBrowser
	if cfg.DLQ.Enabled {
		switch cfg.DLQ.Backend {
		case "jetstream":
			queue, err := dlq.NewJetStreamQueue(ctx, c.nats, cfg.DLQ.Stream, logger)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, service.WithDLQ(queue))
		default:
			queue, err := dlq.NewQueue(cfg.DLQ.Path, logger)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, service.WithDLQ(queue))
			browser = queue
		}
		logger.InfoContext(ctx, "dlq enabled", "backend", cfg.DLQ.Backend)
	}

	if cfg.Dedup.Enabled {
		store, err := dedup.NewRedisStore(ctx, cfg.Dedup.RedisURL, cfg.Dedup.TTL, cfg.Dedup.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		c.dedup = store
		opts = append(opts, service.WithDedup(store))
	}

	if cfg.OpenSearch.Enabled {
		osCfg := storage.DefaultConfig()
		osCfg.URL = cfg.OpenSearch.URL
		osCfg.Username = cfg.OpenSearch.Username
		osCfg.Password = cfg.OpenSearch.Password
		osCfg.TLSSkipVerify = cfg.OpenSearch.TLSSkipVerify
		osCfg.IndexPrefix = cfg.OpenSearch.IndexPrefix
		osCfg.FlushInterval = cfg.OpenSearch.BulkFlushInterval
		if cfg.OpenSearch.BulkBatchSize > 0 {
			// Rough per-document budget for normalized Cloud Logging entries.
			osCfg.FlushBytes = cfg.OpenSearch.BulkBatchSize * 4096
		}
		c.sink, err = storage.NewClient(osCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := c.sink.Initialize(ctx); err != nil {
			return nil, nil, err
		}
		opts = append(opts, service.WithSink(c.sink))
	}

	return service.NewProcessor(pipelines, opts...), browser, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &components{}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.close(shutdownCtx, logger)
	}()

	processor, browser, err := buildProcessor(ctx, cfg, logger, c)
	if err != nil {
		return err
	}

	if c.nats != nil {
		c.subscriber = subscriber.NewHandler(c.nats, processor, cfg.NATS.QueueGroup, logger)
		if err := c.subscriber.Start(ctx); err != nil {
			return err
		}
	}

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if serveAddr != "" {
		listenAddr = serveAddr
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		c.limiter, err = ratelimit.NewRedisLimiter(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
		if err != nil {
			return err
		}
		limiter = c.limiter
	}

	handler := handlers.NewProcessorHandler(processor, browser, logger, cfg.Server.MaxBodyBytes)
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(handler, limiter, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "cloudlog listening", "addr", listenAddr, "sources", processor.Health().Sources)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", logging.Error(err))
	}
	return nil
}
