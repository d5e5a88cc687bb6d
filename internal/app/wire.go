package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	s3blob "github.com/pinbar/polywatcher/internal/blob/s3"
	"github.com/pinbar/polywatcher/internal/bus/redis"
	"github.com/pinbar/polywatcher/internal/config"
	"github.com/pinbar/polywatcher/internal/crypto"
	"github.com/pinbar/polywatcher/internal/domain"
	"github.com/pinbar/polywatcher/internal/platform/polymarket"
	"github.com/pinbar/polywatcher/internal/store/postgres"
	"github.com/pinbar/polywatcher/internal/watcher"
)

// Dependencies bundles the wired watcher service and its optional backends.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Service *watcher.Service

	Journal domain.TradeJournal
	Bus     domain.SignalBus
	Blob    domain.BlobWriter
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	creds, err := crypto.LoadCreds(crypto.CredsConfig{
		Key:           cfg.Polymarket.ApiKey,
		Secret:        cfg.Polymarket.ApiSecret,
		Passphrase:    cfg.Polymarket.ApiPassphrase,
		EncryptedPath: cfg.Polymarket.EncryptedCredsPath,
		Password:      cfg.Polymarket.CredsPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: credentials: %w", err)
	}

	// --- PostgreSQL trade journal ---
	if cfg.Journal.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			Host:     cfg.Journal.Host,
			Port:     cfg.Journal.Port,
			Database: cfg.Journal.Database,
			User:     cfg.Journal.User,
			Password: cfg.Journal.Password,
			SSLMode:  cfg.Journal.SSLMode,
			MaxConns: cfg.Journal.PoolMaxConns,
			MinConns: cfg.Journal.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Journal.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Journal = postgres.NewTradeJournal(pgClient.Pool())
	}

	// --- Redis update bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 snapshot export ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Blob = s3blob.NewWriter(s3Client)
	}

	// --- Polymarket clients ---
	var proxyURL *url.URL
	if cfg.Polymarket.WsProxy != "" {
		proxyURL, err = url.Parse(cfg.Polymarket.WsProxy)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ws_proxy: %w", err)
		}
	}

	stream := polymarket.NewUserWSClient(
		cfg.Polymarket.WsHost, creds, cfg.Polymarket.UserAddress, nil, proxyURL, logger)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, creds, cfg.Polymarket.UserAddress)
	data := polymarket.NewDataClient(cfg.Polymarket.DataHost)

	var gamma watcher.MarketReader
	if cfg.Polymarket.GammaHost != "" {
		gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	}

	// --- Watcher service ---
	initPositions := make([]watcher.InitPosition, 0, len(cfg.Watcher.InitPositions))
	for _, p := range cfg.Watcher.InitPositions {
		initPositions = append(initPositions, watcher.InitPosition{
			AssetID:  p.AssetID,
			MarketID: p.MarketID,
			Slug:     p.Slug,
			Outcome:  p.Outcome,
			Price:    p.Price,
			Size:     p.Size,
		})
	}

	svc, err := watcher.New(watcher.Options{
		UserAddress:        cfg.Polymarket.UserAddress,
		FeeEnabled:         cfg.Watcher.EnableFeeCalc,
		EnablePoller:       cfg.Watcher.EnableHTTPFallback,
		PollInterval:       cfg.Watcher.HTTPPollInterval.Duration,
		BootstrapPositions: cfg.Watcher.BootstrapPositions,
		SeedMonitors:       cfg.Watcher.AddInitPositionsToHTTP,
		InitPositions:      initPositions,
		SnapshotInterval:   cfg.S3.SnapshotInterval.Duration,
	}, watcher.Deps{
		Stream:  stream,
		Clob:    clob,
		Data:    data,
		Gamma:   gamma,
		Journal: deps.Journal,
		Bus:     deps.Bus,
		Blob:    deps.Blob,
		Logger:  logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: watcher: %w", err)
	}

	deps.Service = svc
	return deps, cleanup, nil
}
