package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/api"
	"github.com/jabbala/tenantfair/engine"
	"github.com/jabbala/tenantfair/flow"
	"github.com/jabbala/tenantfair/metrics"
	redisstore "github.com/jabbala/tenantfair/store/redis"
	"github.com/jabbala/tenantfair/tier"
)

var (
	configFlag      string
	listenFlag      string
	redisFlag       string
	pipelineURLFlag string
	logFormatFlag   string
	logLevelFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "tenantfaird",
	Short: "Tenant-fair request scheduler replica",
	Long: `tenantfaird runs one replica of the tenant-fair scheduler.

All replicas point at the same Redis backend; the queue, token
buckets, and consumption windows are shared. Dispatched requests are
forwarded to the downstream pipeline URL as HTTP POSTs.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&configFlag, "config", "",
		"Path to the YAML config file (defaults apply when omitted)")
	rootCmd.Flags().StringVar(&listenFlag, "listen", ":8080",
		"Admin API listen address")
	rootCmd.Flags().StringVar(&redisFlag, "redis", "localhost:6379",
		"Redis address, comma-separated for cluster")
	rootCmd.Flags().StringVar(&pipelineURLFlag, "pipeline-url", "",
		"Downstream pipeline endpoint (required)")
	rootCmd.Flags().StringVar(&logFormatFlag, "log-format", "text",
		"Log format: text or json")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "info",
		"Log level: debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("pipeline-url") //nolint:errcheck // flag exists
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}

	cfg := tenantfair.DefaultConfig()
	if configFlag != "" {
		cfg, err = tenantfair.LoadConfig(configFlag)
		if err != nil {
			return err
		}
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: strings.Split(redisFlag, ","),
	})
	defer client.Close() //nolint:errcheck // process exit

	st := redisstore.New(client,
		redisstore.WithLogger(logger),
		redisstore.WithQueueCeiling(cfg.QueueCeiling),
	)

	pingCtx, pingCancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer pingCancel()
	if err := st.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", redisFlag, err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	eng, err := engine.New(
		engine.WithConfig(cfg),
		engine.WithStore(st),
		engine.WithPipeline(newHTTPPipeline(pipelineURLFlag)),
		engine.WithLogger(logger),
		engine.WithMetrics(collector),
		engine.WithGuard(buildGuard(cfg)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	admin := api.New(eng,
		api.WithLogger(logger),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	srv := &http.Server{
		Addr:              listenFlag,
		Handler:           admin.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("admin api listening", slog.String("addr", listenFlag))
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("admin api failed", slog.String("error", serveErr.Error()))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("admin api shutdown error", slog.String("error", err.Error()))
	}
	return eng.Stop(shutCtx)
}

// buildGuard bounds per-tier in-flight work on this replica from the
// tier fair shares, so no single tier can monopolize every slot. Each
// tier gets its share of the pool plus one slot of slack; the floor of
// one keeps the lowest tier schedulable on tiny pools.
func buildGuard(cfg tenantfair.Config) *flow.Guard {
	limits := make([]flow.TierLimit, 0, len(tier.All()))
	for _, t := range tier.All() {
		bound := cfg.PoolSize*cfg.Tiers[t].FairSharePercent/100 + 1
		limits = append(limits, flow.TierLimit{
			Tier:        t,
			MaxInFlight: bound,
		})
	}
	return flow.NewGuard(limits...)
}

func buildLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevelFlag)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevelFlag)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch logFormatFlag {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", logFormatFlag)
	}
}
