package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
)

// LoadAuthority reads the server authority keypair from the keystore file.
// The file uses the standard solana-keygen JSON byte-array format. Callers
// must not hold the key beyond the call that needed it.
func LoadAuthority(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read authority keystore: %w", err)
	}
	if len(key) != solana.PrivateKeyLength {
		return nil, fmt.Errorf("invalid authority key length: expected %d, got %d", solana.PrivateKeyLength, len(key))
	}
	return key, nil
}

// GenerateAuthority creates a fresh authority keypair and writes it to the
// keystore path in solana-keygen format. Used by the keygen subcommand when
// provisioning a deployment.
func GenerateAuthority(path string) (solana.PublicKey, error) {
	if _, err := os.Stat(path); err == nil {
		return solana.PublicKey{}, fmt.Errorf("keystore already exists at %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	key := solana.NewWallet().PrivateKey

	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to marshal keypair: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to write keystore file: %w", err)
	}

	return key.PublicKey(), nil
}
