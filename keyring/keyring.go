// Package keyring provides secure storage for tunnel private keys.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yllada/tunnelbar/common"
	"github.com/zalando/go-keyring"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "tunnelbar"

// Common errors returned by keyring operations.
var (
	ErrNotFound = common.ErrCredentialsNotFound
	ErrEmptyID  = errors.New("tunnel ID cannot be empty")
)

// Store keeps one secret per tunnel ID.
// The backend is chosen on first use: the system keyring if it accepts a
// probe write, otherwise an AES-GCM encrypted file in the config directory.
type Store struct {
	dir string

	once     sync.Once
	useLocal bool

	mu    sync.RWMutex
	local map[string]string
	key   []byte
}

var _ common.CredentialStore = (*Store)(nil)

// New returns a Store whose fallback file lives in dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) init() {
	s.once.Do(func() {
		testKey := serviceName + "-probe"
		if err := keyring.Set(serviceName, testKey, "probe"); err == nil {
			_ = keyring.Delete(serviceName, testKey)
			return
		}
		common.LogWarn("System keyring unavailable, using encrypted file in %s", s.dir)
		s.initLocal()
	})
}

func (s *Store) initLocal() {
	s.useLocal = true
	_ = os.MkdirAll(s.dir, 0700)

	// The file key is bound to this machine and user.
	hostname, _ := os.Hostname()
	keyData := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID(), os.Getuid())
	hash := sha256.Sum256([]byte(keyData))
	s.key = hash[:]

	s.local = make(map[string]string)
	s.loadLocal()
}

func (s *Store) file() string {
	return filepath.Join(s.dir, common.CredentialsFileName)
}

func machineID() string {
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(p); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return "default-machine-id"
}

func (s *Store) loadLocal() {
	data, err := os.ReadFile(s.file())
	if err != nil {
		return
	}

	decrypted, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("Could not decrypt %s: %v", s.file(), err)
		return
	}

	if err := json.Unmarshal(decrypted, &s.local); err != nil {
		common.LogWarn("Could not parse %s: %v", s.file(), err)
	}
}

func (s *Store) saveLocal() error {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	if err := os.WriteFile(s.file(), encrypted, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
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

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Store saves the secret for a tunnel.
func (s *Store) Store(tunnelID, secret string) error {
	if tunnelID == "" {
		return ErrEmptyID
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	s.init()

	if !s.useLocal {
		err := keyring.Set(serviceName, tunnelID, secret)
		if err == nil {
			return nil
		}
		common.LogWarn("Keyring write failed, switching to encrypted file: %v", err)
		s.initLocal()
	}

	s.mu.Lock()
	s.local[tunnelID] = secret
	s.mu.Unlock()
	return s.saveLocal()
}

// Get retrieves the secret for a tunnel.
func (s *Store) Get(tunnelID string) (string, error) {
	if tunnelID == "" {
		return "", ErrEmptyID
	}
	s.init()

	if !s.useLocal {
		secret, err := keyring.Get(serviceName, tunnelID)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogWarn("Keyring read failed for %s: %v", tunnelID, err)
		}
		return "", ErrNotFound
	}

	s.mu.RLock()
	secret, exists := s.local[tunnelID]
	s.mu.RUnlock()
	if !exists {
		return "", ErrNotFound
	}
	return secret, nil
}

// Delete removes the secret for a tunnel. Deleting a missing secret is not an error.
func (s *Store) Delete(tunnelID string) error {
	if tunnelID == "" {
		return ErrEmptyID
	}
	s.init()

	if !s.useLocal {
		err := keyring.Delete(serviceName, tunnelID)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	delete(s.local, tunnelID)
	s.mu.Unlock()
	return s.saveLocal()
}

// Exists checks if a secret exists for a tunnel.
func (s *Store) Exists(tunnelID string) bool {
	_, err := s.Get(tunnelID)
	return err == nil
}
