package provider

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nwcprovider/internal/config"
	"nwcprovider/internal/wallet/mock"
)

func TestNewGeneratesAndPersistsProviderKey(t *testing.T) {
	cfg := &config.Config{
		RelayURL:  "wss://relay.example.com",
		DBPath:    filepath.Join(t.TempDir(), "nwcprovider.db"),
		AdminAddr: "127.0.0.1:0",
		WalletID:  "default",
		SiteTitle: "Test Provider",
	}

	p, err := New(cfg, mock.New(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Store.Close()

	if p.providerPrivKey == "" || p.providerPubKey == "" {
		t.Fatal("expected a generated provider keypair")
	}

	stored, ok, err := p.Store.GetConfig(context.Background(), "provider_key")
	if err != nil || !ok {
		t.Fatalf("expected provider_key persisted, ok=%v err=%v", ok, err)
	}
	if stored != p.providerPrivKey {
		t.Fatalf("persisted key %q != in-memory key %q", stored, p.providerPrivKey)
	}
}

func TestNewReusesPersistedProviderKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nwcprovider.db")
	cfg := &config.Config{RelayURL: "wss://relay.example.com", DBPath: dbPath, AdminAddr: "127.0.0.1:0", WalletID: "default"}

	p1, err := New(cfg, mock.New(), nil)
	if err != nil {
		t.Fatalf("New (first boot): %v", err)
	}
	key1 := p1.providerPrivKey
	p1.Store.Close()

	p2, err := New(cfg, mock.New(), nil)
	if err != nil {
		t.Fatalf("New (second boot): %v", err)
	}
	defer p2.Store.Close()

	if p2.providerPrivKey != key1 {
		t.Fatalf("expected stable provider key across restarts, got %q then %q", key1, p2.providerPrivKey)
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	cfg := &config.Config{
		RelayURL:  "ws://127.0.0.1:1", // unreachable; exercises the reconnect loop, not a real relay
		DBPath:    filepath.Join(t.TempDir(), "nwcprovider.db"),
		AdminAddr: "127.0.0.1:0",
		WalletID:  "default",
	}
	p, err := New(cfg, mock.New(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not shut down within timeout")
	}
}
