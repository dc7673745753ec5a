package paranoia

import "testing"

func TestIsHex32(t *testing.T) {
	good := "a94d6f5f92e9d8f3c7f0b9c2a1d5e6f4b3c2a1d0e9f8c7b6a5d4e3f2c1b0a908"
	if !IsHex32(good) {
		t.Fatalf("expected %q to be valid hex32", good)
	}
	if IsHex32("tooshort") {
		t.Fatal("expected short string to be rejected")
	}
	if IsHex32("zz94d6f5f92e9d8f3c7f0b9c2a1d5e6f4b3c2a1d0e9f8c7b6a5d4e3f2c1b0a90") {
		t.Fatal("expected non-hex string to be rejected")
	}
}

func TestRejectsSentinelHashes(t *testing.T) {
	for _, bad := range []string{"", " ", "None", "True", "False"} {
		h := sha256Hex(bad)
		if IsHex32(h) {
			t.Fatalf("expected sentinel hash of %q to be rejected: %s", bad, h)
		}
	}
}

func TestIsPositiveMsats(t *testing.T) {
	if !IsPositiveMsats(123000) {
		t.Fatal("expected 123000 to be valid")
	}
	if IsPositiveMsats(0) || IsPositiveMsats(-1) {
		t.Fatal("expected non-positive amounts to be rejected")
	}
	if IsPositiveMsats(10_000_000_001) {
		t.Fatal("expected amount over bound to be rejected")
	}
}

func TestIsWalletID(t *testing.T) {
	if !IsWalletID("wallet_1-abc") {
		t.Fatal("expected alnum wallet id to be valid")
	}
	if IsWalletID("has spaces") || IsWalletID("") {
		t.Fatal("expected invalid wallet ids to be rejected")
	}
}
