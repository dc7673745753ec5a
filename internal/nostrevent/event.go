// Package nostrevent implements NIP-01 event construction, canonical
// serialization, id hashing, and signing for the provider's own events.
package nostrevent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"nwcprovider/internal/nostrcrypto"
)

// Event is the NIP-01 event shape exchanged with the relay.
type Event struct {
	ID        string   `json:"id"`
	PubKey    string   `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Kind      int      `json:"kind"`
	Tags      Tags     `json:"tags"`
	Content   string   `json:"content"`
	Sig       string   `json:"sig"`
}

// Tags is a list of NIP-01 tags, each itself a string list ["name", "value", ...].
type Tags [][]string

// Get returns the first value of the first tag named name, or "" if absent.
func (t Tags) Get(name string) string {
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// GetAll returns the first value of every tag named name, in order.
func (t Tags) GetAll(name string) []string {
	var out []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// New builds an unsigned event stamped with the current time.
func New(pubKey string, kind int, tags Tags, content string) *Event {
	return &Event{
		PubKey:    pubKey,
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// canonicalID computes the NIP-01 id: sha256 of the compact JSON tuple
// [0, pubkey, created_at, kind, tags, content], escaping content the same
// way encoding/json would but without the surrounding quotes duplicated.
func canonicalID(e *Event) string {
	serialized := fmt.Sprintf(`[0,"%s",%d,%d,%s,"%s"]`,
		e.PubKey,
		e.CreatedAt,
		e.Kind,
		mustJSON(e.Tags),
		escapeJSON(e.Content),
	)
	sum := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(sum[:])
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func escapeJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil || len(b) < 2 {
		return s
	}
	return string(b[1 : len(b)-1])
}

// Sign computes the event id and signs it with privHex (hex secp256k1 key),
// mutating e.ID and e.Sig in place.
func Sign(e *Event, privHex string) error {
	e.ID = canonicalID(e)
	sig, err := nostrcrypto.Sign(privHex, e.ID)
	if err != nil {
		return fmt.Errorf("nostrevent: sign: %w", err)
	}
	e.Sig = sig
	return nil
}

// Verify checks that e.ID matches the canonical hash of its fields and that
// e.Sig is a valid schnorr signature by e.PubKey over that id.
func Verify(e *Event) bool {
	if e.ID != canonicalID(e) {
		return false
	}
	return nostrcrypto.Verify(e.PubKey, e.ID, e.Sig)
}

// ShortID truncates an event id to 12 hex characters for log lines.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
