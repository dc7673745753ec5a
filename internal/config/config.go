// Package config loads the provider's environment-driven configuration,
// mirroring the teacher's os.Getenv + init() pattern in main.go.
package config

import (
	"fmt"
	"os"

	"nwcprovider/internal/nostrcrypto"
)

// Config holds every environment-tunable setting the provider needs to boot.
type Config struct {
	RelayURL        string // NWC_RELAY
	RelayAlias      string // NWC_RELAY_ALIAS, optional; when set, pairing URLs advertise it instead of RelayURL
	DBPath          string // NWC_DB_PATH
	AdminAddr       string // NWC_ADMIN_ADDR
	LogLevel        string // NWC_LOG_LEVEL
	ProviderPrivKey string // NWC_PROVIDER_KEY, test/dev override; normally generated on first boot
	WalletID        string // NWC_WALLET_ID, the host wallet account this instance bridges to
	SiteTitle       string // NWC_SITE_TITLE
}

// Load reads Config from the environment, applying the same defaults the
// teacher's main.go applies for PORT et al.
func Load() (*Config, error) {
	c := &Config{
		RelayURL:        getenv("NWC_RELAY", "wss://relay.damus.io"),
		RelayAlias:      os.Getenv("NWC_RELAY_ALIAS"),
		DBPath:          getenv("NWC_DB_PATH", "nwcprovider.db"),
		AdminAddr:       getenv("NWC_ADMIN_ADDR", ":8787"),
		LogLevel:        getenv("NWC_LOG_LEVEL", "info"),
		ProviderPrivKey: os.Getenv("NWC_PROVIDER_KEY"),
		WalletID:        getenv("NWC_WALLET_ID", "default"),
		SiteTitle:       getenv("NWC_SITE_TITLE", "NWC Provider"),
	}

	if c.ProviderPrivKey != "" {
		if _, err := nostrcrypto.PublicKey(c.ProviderPrivKey); err != nil {
			return nil, fmt.Errorf("config: NWC_PROVIDER_KEY is not a valid private key: %w", err)
		}
	}

	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
