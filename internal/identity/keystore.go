package identity

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time      = 3
	argon2Memory    = 65536
	argon2Threads   = 4
	argon2KeyLen    = 32
	saltSize        = 32
	keystoreVersion = 1
)

var ErrInvalidPassphrase = errors.New("identity: invalid passphrase or corrupted keystore")

// Entry is an Argon2id-encrypted ed25519 private key stored on disk.
type Entry struct {
	Version       int    `json:"version"`
	KDF           string `json:"kdf"`
	Argon2Time    int    `json:"argon2_time"`
	Argon2Memory  int    `json:"argon2_memory"`
	Argon2Threads int    `json:"argon2_threads"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// SaveKey encrypts and writes the live-swarm signing key to keystorePath.
// An empty passphrase stores the key unencrypted under a ".insecure"
// suffix, for local testing only.
func SaveKey(privateKey []byte, keystorePath, passphrase string) error {
	if len(privateKey) != 64 {
		return errors.New("identity: ed25519 private key must be 64 bytes")
	}
	if err := os.MkdirAll(filepath.Dir(keystorePath), 0700); err != nil {
		return fmt.Errorf("identity: create keystore directory: %w", err)
	}

	var data []byte
	if passphrase == "" {
		data = privateKey
		keystorePath += ".insecure"
	} else {
		entry, err := encryptKey(privateKey, passphrase)
		if err != nil {
			return fmt.Errorf("identity: encrypt key: %w", err)
		}
		data, err = json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return fmt.Errorf("identity: marshal keystore entry: %w", err)
		}
	}

	if err := os.WriteFile(keystorePath, data, 0600); err != nil {
		return fmt.Errorf("identity: write keystore file: %w", err)
	}
	return nil
}

// LoadKey reads and, unless the file carries the ".insecure" suffix,
// decrypts the live-swarm signing key.
func LoadKey(keystorePath, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("identity: read keystore file: %w", err)
	}

	if filepath.Ext(keystorePath) == ".insecure" {
		if len(data) != 64 {
			return nil, errors.New("identity: invalid unencrypted keystore: expected 64 bytes")
		}
		return data, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("identity: unmarshal keystore entry: %w", err)
	}
	return decryptKey(&entry, passphrase)
}

func encryptKey(privateKey []byte, passphrase string) (*Entry, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	derivedKey := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext, err := seal(derivedKey, nonce, nil, privateKey)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

func decryptKey(entry *Entry, passphrase string) ([]byte, error) {
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("identity: unsupported keystore version: %d", entry.Version)
	}
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("identity: unsupported KDF: %s", entry.KDF)
	}

	derivedKey := argon2.IDKey([]byte(passphrase), entry.Salt,
		uint32(entry.Argon2Time), uint32(entry.Argon2Memory), uint8(entry.Argon2Threads), argon2KeyLen)

	plaintext, err := open(derivedKey, entry.Nonce, nil, entry.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(plaintext) != 64 {
		return nil, errors.New("identity: decrypted key has invalid size")
	}
	return plaintext, nil
}

// DefaultKeystorePath returns the platform-conventional directory for the
// engine's identity keys.
func DefaultKeystorePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "swarmd", "keys")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "swarmd", "keys")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "swarmd", "keys")
}
