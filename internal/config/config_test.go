package config

import (
	"testing"

	"nwcprovider/internal/nostrcrypto"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("NWC_RELAY", "")
	t.Setenv("NWC_PROVIDER_KEY", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RelayURL == "" || c.DBPath == "" || c.AdminAddr == "" {
		t.Fatalf("expected defaults to be populated, got %+v", c)
	}
}

func TestLoadRejectsInvalidProviderKey(t *testing.T) {
	t.Setenv("NWC_PROVIDER_KEY", "not-hex")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid NWC_PROVIDER_KEY")
	}
}

func TestLoadAcceptsValidProviderKey(t *testing.T) {
	priv, _ := nostrcrypto.GeneratePrivateKey()
	t.Setenv("NWC_PROVIDER_KEY", priv)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ProviderPrivKey != priv {
		t.Fatalf("got %q, want %q", c.ProviderPrivKey, priv)
	}
}
