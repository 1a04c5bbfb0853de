package fcrypto

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// WriteRootKeyPair writes priv and its public key as PEM-encoded
// "<name>.key" and "<name>.pub" files, per the key-generation utility's
// stable output contract.
func WriteRootKeyPair(name string, priv *ecdsa.PrivateKey) error {
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("fcrypto: marshal private key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("fcrypto: marshal public key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	if err := os.WriteFile(name+".key", keyPEM, 0o600); err != nil {
		return fmt.Errorf("fcrypto: write %s.key: %w", name, err)
	}
	if err := os.WriteFile(name+".pub", pubPEM, 0o644); err != nil {
		return fmt.Errorf("fcrypto: write %s.pub: %w", name, err)
	}
	return nil
}

// LoadRootPrivateKey reads a PEM-encoded ECDSA private key from path.
func LoadRootPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fcrypto: read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("fcrypto: %s: no PEM block found", path)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// LoadRootPublicKey reads a PEM-encoded ECDSA public key from path, the
// counterpart clients embed to verify SERVER_HELLO.
func LoadRootPublicKey(path string) (*ecdsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fcrypto: read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("fcrypto: %s: no PEM block found", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("fcrypto: parse public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("fcrypto: %s does not contain an ECDSA public key", path)
	}
	return ecPub, nil
}
