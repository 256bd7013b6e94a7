package presaled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bunnyriven/config"
	"bunnyriven/gateway/middleware"
	"bunnyriven/native/voucher"
	"bunnyriven/observability/logging"
	telemetry "bunnyriven/observability/otel"
	"bunnyriven/storage"
)

// PassphraseFunc resolves the authority keystore passphrase, consulting
// envVar before any interactive prompt.
type PassphraseFunc func(envVar string) (string, error)

// Run loads the service configuration at cfgPath and serves until ctx is
// cancelled.
func Run(ctx context.Context, cfgPath string, passphrase PassphraseFunc) error {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("BUNNYRIVEN_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "presaled",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "presaled",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	deploy, err := loadDeployment(cfg, passphrase)
	if err != nil {
		return err
	}

	db, err := openState(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	receiptDB, err := OpenReceiptDB(cfg.Receipts.Driver, cfg.Receipts.DSN)
	if err != nil {
		return fmt.Errorf("open receipts: %w", err)
	}
	receipts, err := NewReceiptStore(receiptDB, logger)
	if err != nil {
		return err
	}

	node, err := NewNode(deploy, db, receipts, logger)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	if deploy.AuthorityKeystorePath != "" {
		if err := attachIssuer(node, deploy, cfg.PassphraseEnv, passphrase, logger); err != nil {
			logger.Warn("voucher issuance disabled", "error", err)
		}
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for group, entry := range cfg.RateLimits {
		limits[group] = middleware.RateLimit{RatePerSecond: entry.RatePerSecond, Burst: entry.Burst}
	}
	srv, err := NewServer(ServerConfig{
		Node:     node,
		Receipts: receipts,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:         cfg.Auth.Enabled,
			HMACSecret:      cfg.Auth.HMACSecret,
			Issuer:          cfg.Auth.Issuer,
			Audience:        cfg.Auth.Audience,
			ClockSkew:       cfg.Auth.ClockSkew.Duration,
			DevCallerHeader: cfg.Auth.DevCallerHeader,
		}, logger),
		RateLimiter:    middleware.NewRateLimiter(limits, logger),
		Observability:  middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "presaled", LogRequests: cfg.Log.Requests}, logger),
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout.Duration,
	})
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; caller identity is taken from the dev header")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), "presaled"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("presaled listening", "addr", cfg.ListenAddress, "network", deploy.NetworkName)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// loadDeployment reads the TOML deployment, generating a development one
// (and prompting for its keystore passphrase) when the file is missing.
func loadDeployment(cfg Config, passphrase PassphraseFunc) (*config.Config, error) {
	var opts []config.LoadOption
	if _, err := os.Stat(cfg.Deployment); os.IsNotExist(err) {
		if passphrase == nil {
			return nil, fmt.Errorf("deployment %s missing and no passphrase source", cfg.Deployment)
		}
		pass, err := passphrase(cfg.PassphraseEnv)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithKeystorePassphrase(pass))
	}
	deploy, err := config.Load(cfg.Deployment, opts...)
	if err != nil {
		return nil, fmt.Errorf("load deployment: %w", err)
	}
	return deploy, nil
}

func attachIssuer(node *Node, deploy *config.Config, envVar string, passphrase PassphraseFunc, logger *slog.Logger) error {
	if passphrase == nil {
		return errors.New("no passphrase source")
	}
	pass, err := passphrase(envVar)
	if err != nil {
		return err
	}
	issuer, err := voucher.LoadIssuer(deploy.AuthorityKeystorePath, pass)
	if err != nil {
		return err
	}
	node.SetIssuer(issuer)
	logger.Info("voucher issuer loaded", "authority", issuer.Address().Hex())
	return nil
}

func openState(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}
