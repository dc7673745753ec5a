// Package provider wires config, storage, the host wallet, the relay
// transport, the dispatcher, and the admin HTTP surface into one runnable
// service, following the boot-sequence and graceful-shutdown shape of the
// teacher's main().
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nwcprovider/internal/admin"
	"nwcprovider/internal/config"
	"nwcprovider/internal/dedupe"
	"nwcprovider/internal/dispatcher"
	"nwcprovider/internal/handlers"
	"nwcprovider/internal/logging"
	"nwcprovider/internal/metrics"
	"nwcprovider/internal/nostrcrypto"
	"nwcprovider/internal/queue"
	"nwcprovider/internal/relaytransport"
	"nwcprovider/internal/store"
	"nwcprovider/internal/store/bolt"
	"nwcprovider/internal/wallet"
)

const shutdownTimeout = 30 * time.Second

// Provider owns every long-running component of one provider instance.
type Provider struct {
	Config *config.Config
	Store  store.Store
	Relay  *relaytransport.Client
	Queue  *queue.Queue
	Dispatcher *dispatcher.Dispatcher
	Admin  *admin.Server
	log    *slog.Logger

	providerPrivKey string
	providerPubKey  string
}

// New takes the loaded config, opens the bolt store, derives (or generates and
// persists) the provider keypair, and wires every component together. hw
// is the host wallet backend this instance bridges to; wiring it is the
// caller's job (mock for dev, httpwallet for production).
func New(cfg *config.Config, hw wallet.HostWallet, log *slog.Logger) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := bolt.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("provider: open store: %w", err)
	}

	providerPrivKey, err := loadOrGenerateProviderKey(st, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	providerPubKey, err := nostrcrypto.PublicKey(providerPrivKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("provider: derive pubkey: %w", err)
	}

	q := queue.New(64)
	relay := relaytransport.New(cfg.RelayURL, log)

	deps := handlers.Deps{
		Store:     st,
		Wallet:    hw,
		Queue:     q,
		WalletID:  cfg.WalletID,
		SiteTitle: cfg.SiteTitle,
	}

	d := dispatcher.New(relay, deps, providerPrivKey, providerPubKey, log)
	if redisURL, ok, _ := st.GetConfig(context.Background(), "dedupe_redis_url"); ok && redisURL != "" {
		if cache, err := dedupe.New(redisURL); err != nil {
			log.Warn("dedupe cache unavailable, continuing without it", "error", err)
		} else {
			d.WithDedupe(cache)
		}
	}

	adminSrv := admin.New(st, providerPubKey, cfg.RelayURL, cfg.RelayAlias, cfg.WalletID, log)

	return &Provider{
		Config:          cfg,
		Store:           st,
		Relay:           relay,
		Queue:           q,
		Dispatcher:      d,
		Admin:           adminSrv,
		log:             log,
		providerPrivKey: providerPrivKey,
		providerPubKey:  providerPubKey,
	}, nil
}

// loadOrGenerateProviderKey resolves the stable provider keypair: explicit
// config overrides it for tests/dev, otherwise it's read from (or written
// to, on first boot) the store, per spec.md's "losing provider_key
// invalidates all outstanding pairings" note.
func loadOrGenerateProviderKey(st store.Store, cfg *config.Config) (string, error) {
	if cfg.ProviderPrivKey != "" {
		return cfg.ProviderPrivKey, nil
	}

	ctx := context.Background()
	if existing, ok, err := st.GetConfig(ctx, "provider_key"); err != nil {
		return "", fmt.Errorf("provider: read provider_key: %w", err)
	} else if ok && existing != "" {
		return existing, nil
	}

	priv, err := nostrcrypto.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("provider: generate provider_key: %w", err)
	}
	if err := st.PutConfig(ctx, "provider_key", priv); err != nil {
		return "", fmt.Errorf("provider: persist provider_key: %w", err)
	}
	return priv, nil
}

// Run starts the relay connection, the dispatcher, the spend queue, and the
// admin HTTP server, blocking until ctx is cancelled, then shuts each down
// within shutdownTimeout.
func (p *Provider) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() { errCh <- p.Relay.Run(runCtx) }()
	go func() {
		p.Queue.Run(runCtx)
		errCh <- nil
	}()
	go func() { errCh <- p.Dispatcher.Run(runCtx) }()

	adminServer := &http.Server{
		Addr:              p.Config.AdminAddr,
		Handler:           withMetrics(p.Admin.Mux()),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		p.log.Info("admin server listening", "addr", p.Config.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		p.log.Info("shutdown requested, cleaning up")
	case err := <-errCh:
		if err != nil {
			p.log.Error("component failed, shutting down", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		p.log.Error("admin server shutdown error", "error", err)
	}

	if err := p.Store.Close(); err != nil {
		p.log.Error("store close error", "error", err)
	}

	p.log.Info("cleanup complete")
	return nil
}

func withMetrics(next http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", next)
	mux.HandleFunc("/metrics", metrics.Handler)
	return logging.Middleware(mux)
}
