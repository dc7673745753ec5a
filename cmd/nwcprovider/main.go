// Command nwcprovider runs a Nostr Wallet Connect provider bridging a
// single host wallet account to NIP-47 clients over one relay.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nwcprovider/internal/config"
	"nwcprovider/internal/logging"
	"nwcprovider/internal/provider"
	"nwcprovider/internal/wallet"
	"nwcprovider/internal/wallet/httpwallet"
	"nwcprovider/internal/wallet/mock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	hw := resolveHostWallet(log)

	p, err := provider.New(cfg, hw, log)
	if err != nil {
		log.Error("failed to construct provider", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Info("starting provider", "relay", cfg.RelayURL, "admin_addr", cfg.AdminAddr)
	if err := p.Run(ctx); err != nil {
		log.Error("provider exited with error", "error", err)
		os.Exit(1)
	}
}

// resolveHostWallet picks the httpwallet REST client when NWC_WALLET_URL is
// set, falling back to the in-memory mock wallet for local development.
func resolveHostWallet(log *slog.Logger) wallet.HostWallet {
	if walletURL := os.Getenv("NWC_WALLET_URL"); walletURL != "" {
		log.Info("using HTTP host wallet", "url", walletURL)
		return httpwallet.New(walletURL, os.Getenv("NWC_WALLET_TOKEN"))
	}
	log.Warn("NWC_WALLET_URL not set, using in-memory mock wallet")
	return mock.New()
}
