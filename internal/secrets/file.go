// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters for master key derivation.
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KiB
	argon2Parallelism = 4
	argon2KeyLength   = 32 // AES-256

	gcmNonceSize = 12
)

// encryptedFile is the on-disk representation of the secret store.
type encryptedFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// FileBackend stores secrets in a single JSON file encrypted with
// AES-256-GCM. The cipher key is derived from a master key with Argon2id;
// a fresh salt and nonce are generated on every write.
type FileBackend struct {
	path      string
	masterKey []byte
	mu        sync.Mutex
	available bool
}

// NewFileBackend creates an encrypted file backend at path, defaulting to
// ~/.config/baton/secrets.enc. The master key comes from the masterKey
// argument, the BATON_MASTER_KEY environment variable, or a master.key file
// beside the store, in that order. Without a master key the backend reports
// itself unavailable instead of erroring.
func NewFileBackend(path, masterKey string) (*FileBackend, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		path = filepath.Join(configDir, "baton", "secrets.enc")
	}

	key, err := resolveMasterKey(path, masterKey)
	if err != nil {
		return &FileBackend{path: path, available: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	return &FileBackend{path: path, masterKey: key, available: true}, nil
}

// Name returns the backend identifier.
func (f *FileBackend) Name() string {
	return "file"
}

// Get retrieves a secret from the encrypted file.
func (f *FileBackend) Get(ctx context.Context, name string) (string, error) {
	if !f.available {
		return "", fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", err
	}

	value, ok := stored[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// Set stores a secret, creating the encrypted file on first write.
func (f *FileBackend) Set(ctx context.Context, name, value string) error {
	if !f.available {
		return fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.load()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		stored = make(map[string]string)
	}

	stored[name] = value
	return f.save(stored)
}

// Delete removes a secret from the encrypted file.
func (f *FileBackend) Delete(ctx context.Context, name string) error {
	if !f.available {
		return fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return err
	}

	if _, ok := stored[name]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	delete(stored, name)
	return f.save(stored)
}

// List returns the stored secret names, sorted.
func (f *FileBackend) List(ctx context.Context) ([]string, error) {
	if !f.available {
		return nil, fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(stored))
	for name := range stored {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Available reports whether a master key was resolved.
func (f *FileBackend) Available() bool {
	return f.available
}

// Priority returns the backend priority (lowest).
func (f *FileBackend) Priority() int {
	return FileBackendPriority
}

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var file encryptedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file: %w", err)
	}

	key := argon2.IDKey(f.masterKey, file.Salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, file.Nonce, file.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets file (wrong master key?): %w", err)
	}

	stored := make(map[string]string)
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted secrets: %w", err)
	}
	return stored, nil
}

func (f *FileBackend) save(stored map[string]string) error {
	plaintext, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to initialize GCM: %w", err)
	}

	file := encryptedFile{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets file: %w", err)
	}

	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

func resolveMasterKey(path, explicit string) ([]byte, error) {
	if explicit != "" {
		return []byte(explicit), nil
	}
	if env := os.Getenv("BATON_MASTER_KEY"); env != "" {
		return []byte(env), nil
	}

	keyPath := filepath.Join(filepath.Dir(path), "master.key")
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("no master key available: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return nil, fmt.Errorf("master key file %s is empty", keyPath)
	}
	return []byte(key), nil
}
