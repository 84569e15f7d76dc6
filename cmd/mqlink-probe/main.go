// Command mqlink-probe dials a list of MQTT brokers and reports how long
// each connection stage took.
//
// Settings come from the environment, optionally seeded from a .env file:
//
//	PROBE_BROKERS=tcp://localhost:1883,wss://broker.example.com/mqtt
//	PROBE_CONCURRENCY=4
//	PROBE_TIMEOUT=10s
//	PROBE_METRICS_ADDR=:9090
//
// Proxy settings follow the usual http_proxy, https_proxy and no_proxy
// variables when MQTT_CLIENT_USE_HTTP_PROXY=TRUE.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/mqlink"
)

// config holds the probe settings.
type config struct {
	Brokers     []string      `env:"PROBE_BROKERS" envSeparator:"," envDefault:"tcp://localhost:1883"`
	Concurrency int           `env:"PROBE_CONCURRENCY" envDefault:"4"`
	Timeout     time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`
	Version     uint8         `env:"PROBE_PROTOCOL_VERSION" envDefault:"5"`

	Username string `env:"PROBE_USERNAME"`
	Password string `env:"PROBE_PASSWORD"`

	HTTPProxy     string `env:"PROBE_HTTP_PROXY"`
	HTTPSProxy    string `env:"PROBE_HTTPS_PROXY"`
	SOCKS5Proxy   string `env:"PROBE_SOCKS5_PROXY"`
	SOCKS5User    string `env:"PROBE_SOCKS5_USERNAME"`
	SOCKS5Pass    string `env:"PROBE_SOCKS5_PASSWORD"`
	SkipTLSVerify bool   `env:"PROBE_INSECURE_SKIP_VERIFY"`

	MetricsAddr string `env:"PROBE_METRICS_ADDR"`
	Verbose     bool   `env:"PROBE_VERBOSE"`
}

func loadConfig(opts env.Options) (config, error) {
	cfg, err := env.ParseAsWithOptions[config](opts)
	if err != nil {
		return config{}, err
	}
	if len(cfg.Brokers) == 0 {
		return config{}, errors.New("PROBE_BROKERS is empty")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}

// clientOptions translates the settings shared by every probe.
func (cfg config) clientOptions(logger *slog.Logger, m *mqlink.Metrics) []mqlink.Option {
	opts := []mqlink.Option{
		mqlink.WithProtocolVersion(cfg.Version),
		mqlink.WithConnectTimeout(cfg.Timeout),
		mqlink.WithLogger(logger),
		mqlink.WithMetrics(m),
	}
	if cfg.Username != "" {
		opts = append(opts, mqlink.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.HTTPProxy != "" {
		opts = append(opts, mqlink.WithHTTPProxy(cfg.HTTPProxy))
	}
	if cfg.HTTPSProxy != "" {
		opts = append(opts, mqlink.WithHTTPSProxy(cfg.HTTPSProxy))
	}
	if cfg.SOCKS5Proxy != "" {
		var auth *proxy.Auth
		if cfg.SOCKS5User != "" {
			auth = &proxy.Auth{User: cfg.SOCKS5User, Password: cfg.SOCKS5Pass}
		}
		opts = append(opts, mqlink.WithSOCKS5Proxy(cfg.SOCKS5Proxy, auth))
	}
	if cfg.SkipTLSVerify {
		opts = append(opts, mqlink.WithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(env.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := mqlink.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = startMetricsServer(cfg.MetricsAddr, reg, logger)
	}

	failed := run(ctx, cfg, logger, m)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}

	if failed > 0 {
		logger.Error("probe finished with failures", slog.Int("failed", failed), slog.Int("brokers", len(cfg.Brokers)))
		os.Exit(1)
	}
	logger.Info("probe finished", slog.Int("brokers", len(cfg.Brokers)))
}

// run probes every broker and returns the number of failures.
func run(ctx context.Context, cfg config, logger *slog.Logger, m *mqlink.Metrics) int {
	opts := cfg.clientOptions(logger, m)

	var failed atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, broker := range cfg.Brokers {
		g.Go(func() error {
			res := probe(ctx, broker, cfg.Timeout, opts...)
			res.log(logger)
			if res.Err != nil {
				failed.Add(1)
			}
			// A failed broker does not stop the others.
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	return srv
}
