// Package credentials stores embedding-provider API keys in an encrypted
// file. Keys are sealed with AES-GCM under an argon2id key derived from a
// per-store salt and a machine identity, so the file is useless copied off
// the machine. Environment variables always win over the file: operators can
// rotate a key without touching stored state.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrNotFound reports a provider with no stored key.
var ErrNotFound = errors.New("no stored key for provider")

// envVarByProvider maps provider names to the environment variable that
// overrides the stored key.
var envVarByProvider = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// Store holds provider API keys in one encrypted file.
type Store struct {
	path string
	key  []byte
	mu   sync.RWMutex
}

// keyFile is the sealed file's plaintext layout.
type keyFile struct {
	Providers map[string]string `json:"providers"`
}

// Open creates or opens the key store under dir. The directory and every
// file in it are private to the owner.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	key, err := deriveKey(dir)
	if err != nil {
		return nil, err
	}
	return &Store{
		path: filepath.Join(dir, "keys.enc"),
		key:  key,
	}, nil
}

// Resolve returns the API key for a provider: the environment variable when
// set, the stored key otherwise. ErrNotFound when neither exists.
func (s *Store) Resolve(provider string) (string, error) {
	if env := envVarByProvider[strings.ToLower(provider)]; env != "" {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	return s.Get(provider)
}

// Get returns the stored key for a provider.
func (s *Store) Get(provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}
	secret, ok := data.Providers[strings.ToLower(provider)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, provider)
	}
	return secret, nil
}

// Set stores a provider key, replacing any previous one.
func (s *Store) Set(provider, secret string) error {
	if provider == "" {
		return fmt.Errorf("provider name is required")
	}
	if secret == "" {
		return fmt.Errorf("secret is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data.Providers[strings.ToLower(provider)] = secret
	return s.save(data)
}

// Delete removes a provider key. Deleting an absent key is a no-op.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	delete(data.Providers, strings.ToLower(provider))
	return s.save(data)
}

// Providers lists providers with stored keys, sorted. Secrets are not
// returned.
func (s *Store) Providers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(data.Providers))
	for name := range data.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) load() (*keyFile, error) {
	sealed, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &keyFile{Providers: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal key store: %w", err)
	}

	var data keyFile
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("decode key store: %w", err)
	}
	if data.Providers == nil {
		data.Providers = make(map[string]string)
	}
	return &data, nil
}

func (s *Store) save(data *keyFile) error {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return err
	}
	sealed, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a truncated store.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed data too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// deriveKey derives the AES key from a per-store random salt and the machine
// identity via argon2id.
func deriveKey(dir string) ([]byte, error) {
	salt, err := getOrCreateSalt(filepath.Join(dir, ".salt"))
	if err != nil {
		return nil, err
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	return argon2.IDKey([]byte(machineIdentifier()+user), salt, 1, 64*1024, 4, 32), nil
}

func getOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == 32 {
		return salt, nil
	}

	salt = make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

func machineIdentifier() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return string(data)
		}
	}

	hostname, _ := os.Hostname()
	sum := sha256.Sum256([]byte(hostname + os.Getenv("HOME") + os.Getenv("USER")))
	return hex.EncodeToString(sum[:])
}
