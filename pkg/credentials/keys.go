// Package credentials generates and persists the SSH key pairs used to reach
// catlets after their first boot.
package credentials

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/openfroyo/catletctl/pkg/stores"
)

// KeyPair is an ED25519 key pair. PublicKey is a single authorized_keys
// line without the trailing newline; PrivateKey is OpenSSH PEM.
type KeyPair struct {
	PublicKey  string
	PrivateKey []byte
}

// Generate creates a new ED25519 key pair.
func Generate() (*KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	block, err := sshpkg.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PublicKey:  strings.TrimSpace(string(sshpkg.MarshalAuthorizedKey(sshPubKey))),
		PrivateKey: pem.EncodeToMemory(block),
	}, nil
}

// Parse rebuilds a key pair from a PEM private key.
func Parse(privateKey []byte) (*KeyPair, error) {
	signer, err := sshpkg.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &KeyPair{
		PublicKey:  strings.TrimSpace(string(sshpkg.MarshalAuthorizedKey(signer.PublicKey()))),
		PrivateKey: privateKey,
	}, nil
}

// MachineStore is the subset of the state store that holds machine keys.
type MachineStore interface {
	GetMachine(ctx context.Context, name string) (*stores.Machine, error)
	SaveMachine(ctx context.Context, m *stores.Machine) error
}

// Ensure returns the key pair stored for a machine, generating and saving a
// new one when the machine has none. The catlet id already recorded for the
// machine is preserved.
func Ensure(ctx context.Context, store MachineStore, name string) (*KeyPair, error) {
	m, err := store.GetMachine(ctx, name)
	switch {
	case errors.Is(err, stores.ErrNotFound):
		m = &stores.Machine{Name: name}
	case err != nil:
		return nil, err
	}

	if m.PrivateKey != "" {
		kp, err := Parse([]byte(m.PrivateKey))
		if err == nil {
			return kp, nil
		}
		log.Warn().Err(err).Str("machine", name).Msg("stored key is unreadable, generating a new one")
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}

	m.PublicKey = kp.PublicKey
	m.PrivateKey = string(kp.PrivateKey)
	if err := store.SaveMachine(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save key for %s: %w", name, err)
	}

	log.Info().Str("machine", name).Msg("generated new SSH keypair")
	return kp, nil
}

// WriteFiles writes the key pair to dir/name and dir/name.pub and returns
// the private key path.
func WriteFiles(dir, name string, kp *KeyPair) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create keys directory: %w", err)
	}

	privateKeyPath := filepath.Join(dir, name)
	if err := os.WriteFile(privateKeyPath, kp.PrivateKey, 0o600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath+".pub", []byte(kp.PublicKey+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}

	return privateKeyPath, nil
}
