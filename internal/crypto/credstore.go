package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-credentials JSON schema version.
	currentVersion = 1
)

// encryptedCredsJSON is the on-disk format for an encrypted credential blob.
type encryptedCredsJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// EncryptCreds encrypts the API credential triple with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption. It returns the JSON blob suitable for writing to disk.
func EncryptCreds(creds APICreds, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := encryptedCredsJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// DecryptCreds decrypts a JSON blob produced by EncryptCreds.
func DecryptCreds(encryptedJSON []byte, password string) (APICreds, error) {
	if password == "" {
		return APICreds{}, errors.New("crypto: password must not be empty")
	}

	var stored encryptedCredsJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return APICreds{}, fmt.Errorf("crypto: parsing encrypted credentials JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return APICreds{}, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return APICreds{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return APICreds{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return APICreds{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return APICreds{}, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return APICreds{}, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return APICreds{}, errors.New("crypto: decryption failed (wrong password or corrupted file)")
	}

	var creds APICreds
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return APICreds{}, fmt.Errorf("crypto: parsing decrypted credentials: %w", err)
	}

	return creds, nil
}

// CredsConfig carries the information LoadCreds needs to resolve the API
// credential triple. Populate the fields from environment variables or a
// config file.
type CredsConfig struct {
	// Key, Secret, Passphrase are the raw credentials. When all three are
	// set, LoadCreds returns them directly.
	Key        string
	Secret     string
	Passphrase string

	// EncryptedPath is the path to a JSON file produced by EncryptCreds.
	EncryptedPath string

	// Password is used to decrypt the file at EncryptedPath.
	Password string
}

// LoadCreds resolves API credentials from raw config values or an encrypted
// file, preferring raw values when present.
func LoadCreds(cfg CredsConfig) (APICreds, error) {
	if cfg.Key != "" && cfg.Secret != "" && cfg.Passphrase != "" {
		return APICreds{Key: cfg.Key, Secret: cfg.Secret, Passphrase: cfg.Passphrase}, nil
	}

	if cfg.EncryptedPath == "" {
		return APICreds{}, errors.New("crypto: no API credentials configured")
	}

	blob, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return APICreds{}, fmt.Errorf("crypto: reading encrypted credentials: %w", err)
	}

	return DecryptCreds(blob, cfg.Password)
}
