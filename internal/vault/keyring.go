package vault

import (
	"context"
	"errors"
)

var errKeyringUnavailable = errors.New("vault: native keyring unavailable")

// keyringVault would delegate to a native OS keyring (macOS Keychain,
// Secret Service on Linux, Windows Credential Manager). No such library is
// available in this build; Probe always reports unavailable so Open falls
// back to the encrypted file backend. Kept as a seam so a future build can
// wire a real keyring without touching callers.
type keyringVault struct{}

func newKeyringVault() *keyringVault {
	return &keyringVault{}
}

// Probe reports whether a native keyring is usable in this process. A
// headless daemon has no session keyring to bind to, so this is always
// false here.
func (k *keyringVault) Probe() bool {
	return false
}

func (k *keyringVault) Put(ctx context.Context, account, secret string) (StorageKind, error) {
	return "", errKeyringUnavailable
}

func (k *keyringVault) Get(ctx context.Context, account string) (string, error) {
	return "", errKeyringUnavailable
}

func (k *keyringVault) Delete(ctx context.Context, account string) error {
	return errKeyringUnavailable
}
