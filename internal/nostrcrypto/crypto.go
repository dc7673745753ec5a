// Package nostrcrypto implements the secp256k1/schnorr signing and NIP-04
// encryption primitives the provider needs to speak NIP-47 over a relay.
package nostrcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ivSource is a test seam: production uses crypto/rand, tests swap this for
// a deterministic source to assert that encryption is repeatable.
var ivSource = func(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GeneratePrivateKey returns a fresh 32-byte secp256k1 private key, hex encoded.
func GeneratePrivateKey() (string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(priv.Serialize()), nil
}

// PublicKey derives the x-only (BIP-340) public key for a hex private key.
func PublicKey(privHex string) (string, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return "", errors.New("invalid private key hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)
	if priv == nil {
		return "", errors.New("invalid private key")
	}
	return hex.EncodeToString(priv.PubKey().SerializeCompressed()[1:]), nil
}

func parseXOnlyPubKey(pubHex string) (*btcec.PublicKey, error) {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != 32 {
		return nil, errors.New("invalid public key hex")
	}
	withPrefix := append([]byte{0x02}, pubBytes...)
	pub, err := btcec.ParsePubKey(withPrefix)
	if err != nil {
		withPrefix[0] = 0x03
		pub, err = btcec.ParsePubKey(withPrefix)
		if err != nil {
			return nil, errors.New("invalid public key")
		}
	}
	return pub, nil
}

// SharedSecret computes the NIP-04 ECDH shared secret (X coordinate only,
// padded to 32 bytes) between privHex and pubHex.
func SharedSecret(privHex, pubHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, errors.New("invalid private key hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)
	if priv == nil {
		return nil, errors.New("invalid private key")
	}
	pub, err := parseXOnlyPubKey(pubHex)
	if err != nil {
		return nil, err
	}

	sharedX := btcec.GenerateSharedSecret(priv, pub)
	if len(sharedX) == 32 {
		return sharedX, nil
	}
	padded := make([]byte, 32)
	copy(padded[32-len(sharedX):], sharedX)
	return padded, nil
}

// Encrypt implements the NIP-04 wire format: base64(aes-cbc-pkcs7(plaintext)) + "?iv=" + base64(iv).
func Encrypt(plaintext string, sharedSecret []byte) (string, error) {
	if len(sharedSecret) != 32 {
		return "", errors.New("nip04: shared secret must be 32 bytes")
	}

	iv, err := ivSource(aes.BlockSize)
	if err != nil {
		return "", err
	}

	plaintextBytes := []byte(plaintext)
	padding := aes.BlockSize - (len(plaintextBytes) % aes.BlockSize)
	padded := make([]byte, len(plaintextBytes)+padding)
	copy(padded, plaintextBytes)
	for i := len(plaintextBytes); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt, validating IV length and PKCS7 padding.
func Decrypt(payload string, sharedSecret []byte) (string, error) {
	if len(sharedSecret) != 32 {
		return "", errors.New("nip04: shared secret must be 32 bytes")
	}

	parts := strings.Split(payload, "?iv=")
	if len(parts) != 2 {
		return "", errors.New("nip04: malformed payload")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errors.New("nip04: invalid ciphertext base64")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("nip04: invalid iv base64")
	}
	if len(iv) != aes.BlockSize {
		return "", errors.New("nip04: invalid iv length")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.New("nip04: ciphertext not block aligned")
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return "", errors.New("nip04: invalid padding")
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return "", errors.New("nip04: invalid padding")
		}
	}
	return string(plaintext[:len(plaintext)-padding]), nil
}

// Sign produces a BIP-340 schnorr signature over a 32-byte event id.
func Sign(privHex string, idHex string) (string, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return "", errors.New("invalid private key hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)
	if priv == nil {
		return "", errors.New("invalid private key")
	}
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 32 {
		return "", errors.New("invalid event id")
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a BIP-340 schnorr signature over a 32-byte event id.
func Verify(pubHex, idHex, sigHex string) bool {
	if len(sigHex) != 128 || len(pubHex) != 64 {
		return false
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(idHex)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	return sig.Verify(idBytes, pub)
}
