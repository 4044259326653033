package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	saltFile    = "salt"
	secretsFile = "secrets.json"
	machineFile = "machine_id" // fallback identifier when /etc/machine-id is unreadable
)

// fileVault is an AES-256-GCM encrypted JSON file keyed by a scrypt-derived
// key. It is the always-available fallback backend: every secret lives at
// <configDir>/secrets.json, encrypted at rest.
type fileVault struct {
	path string
	key  []byte

	mu sync.Mutex
}

func newFileVault(configDir string) (*fileVault, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create config dir: %w", err)
	}

	salt, err := loadOrCreateSalt(configDir)
	if err != nil {
		return nil, fmt.Errorf("vault: load salt: %w", err)
	}

	ident, err := machineIdentifier(configDir)
	if err != nil {
		return nil, fmt.Errorf("vault: machine identifier: %w", err)
	}

	key, err := scrypt.Key([]byte(ident), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	return &fileVault{
		path: filepath.Join(configDir, secretsFile),
		key:  key,
	}, nil
}

type encryptedBlob struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (v *fileVault) Put(ctx context.Context, account, secret string) (StorageKind, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.readAll()
	if err != nil {
		return "", err
	}
	secrets[account] = secret
	if err := v.writeAll(secrets); err != nil {
		return "", err
	}
	return StorageFile, nil
}

func (v *fileVault) Get(ctx context.Context, account string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.readAll()
	if err != nil {
		return "", err
	}
	s, ok := secrets[account]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (v *fileVault) Delete(ctx context.Context, account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.readAll()
	if err != nil {
		return err
	}
	if _, ok := secrets[account]; !ok {
		return nil
	}
	delete(secrets, account)
	return v.writeAll(secrets)
}

func (v *fileVault) readAll() (map[string]string, error) {
	raw, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read secrets file: %w", err)
	}
	if len(raw) == 0 {
		return map[string]string{}, nil
	}

	var blob encryptedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("vault: decode secrets file: %w", err)
	}

	plain, err := v.decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt secrets file: %w", err)
	}

	secrets := map[string]string{}
	if len(plain) > 0 {
		if err := json.Unmarshal(plain, &secrets); err != nil {
			return nil, fmt.Errorf("vault: decode secrets payload: %w", err)
		}
	}
	return secrets, nil
}

func (v *fileVault) writeAll(secrets map[string]string) error {
	plain, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("vault: encode secrets payload: %w", err)
	}

	blob, err := v.encrypt(plain)
	if err != nil {
		return fmt.Errorf("vault: encrypt secrets payload: %w", err)
	}

	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("vault: encode secrets file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".secrets-*.tmp")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("vault: chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("vault: rename temp file: %w", err)
	}
	return nil
}

func (v *fileVault) encrypt(plain []byte) (encryptedBlob, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return encryptedBlob{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return encryptedBlob{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return encryptedBlob{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plain, nil)
	return encryptedBlob{
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
	}, nil
}

func (v *fileVault) decrypt(blob encryptedBlob) ([]byte, error) {
	nonce, err := hex.DecodeString(blob.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := hex.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func loadOrCreateSalt(configDir string) ([]byte, error) {
	path := filepath.Join(configDir, saltFile)
	if raw, err := os.ReadFile(path); err == nil {
		return hex.DecodeString(string(raw))
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

// machineIdentifier returns a stable per-machine string used as scrypt
// input material. It prefers /etc/machine-id; when unavailable (containers
// without it, non-Linux hosts) it falls back to a random identifier
// persisted alongside the salt so the derived key stays stable across
// restarts of the same installation.
func machineIdentifier(configDir string) (string, error) {
	if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
		return string(raw), nil
	}

	path := filepath.Join(configDir, machineFile)
	if raw, err := os.ReadFile(path); err == nil {
		return string(raw), nil
	}

	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return "", err
	}
	encoded := hex.EncodeToString(id)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return "", err
	}
	return encoded, nil
}
