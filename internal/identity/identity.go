// Package identity manages the ed25519 signing keypair a live swarm uses
// to authenticate SIGNED-INTEGRITY records. It never touches wire traffic
// confidentiality: the engine's datagrams are sent in the clear, and this
// package's AEAD is used only to encrypt the private key at rest.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// KeyPair is an ed25519 identity used to sign and verify live-swarm peaks.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Generate creates a fresh ed25519 identity keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Fingerprint renders a SHA-256 fingerprint of a public key, printed by
// cmd/swarmkeygen to identify a live swarm's signer without
// printing the full key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "SHA256:" + hex.EncodeToString(sum[:])
}

// Sign signs a (chunk range, hash, timestamp) tuple for a SIGNED-INTEGRITY
// record. The caller is responsible for building the canonical byte
// encoding; this function only wraps ed25519.Sign with a key-size guard.
func Sign(priv ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("identity: private key has wrong size")
	}
	return ed25519.Sign(priv, message), nil
}

// Verify checks a SIGNED-INTEGRITY signature against the swarm's
// advertised public key.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}
