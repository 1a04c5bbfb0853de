// Package fcrypto implements the cryptographic primitives the wire
// protocol is built on: ephemeral ECDH key agreement on P-256, HKDF-SHA256
// key derivation, AES-128-GCM AEAD, ECDSA-P256/SHA-256 signing of the
// SERVER_HELLO, and the CRC32 checksum used on unencrypted handshake
// packets.
package fcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"hash/crc32"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the AES-128-GCM key size in bytes.
const SessionKeySize = 16

// SaltSize is the HKDF salt size in bytes.
const SaltSize = 16

// TagSize is the AES-GCM authentication tag size in bytes.
const TagSize = 16

// IVSize is the AEAD nonce size: the first 12 bytes of the packet header.
const IVSize = 12

// Direction labels bound into the HKDF info string so a key derived for
// client->server traffic can never be confused with server->client
// traffic, even though both sides compute the same ECDH shared secret.
type Direction string

const (
	DirectionClientToServer Direction = "c2s"
	DirectionServerToClient Direction = "s2c"
)

// GenerateEphemeral creates a fresh P-256 ECDH keypair for one handshake.
func GenerateEphemeral() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// RandomSalt returns a fresh random HKDF salt.
func RandomSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("fcrypto: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSessionKey runs ECDH between priv and peerPub, then HKDF-SHA256
// over the shared secret with the given salt to produce a 16-byte AEAD
// key. dir is bound into the info string so client/server key derivation
// for the same shared secret never collides across directions.
func DeriveSessionKey(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey, salt []byte, dir Direction) ([]byte, error) {
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("fcrypto: ecdh: %w", err)
	}
	info := []byte("fosonet-v1|P-256|SHA-256|AES-128-GCM|" + string(dir))
	r := hkdf.New(sha256.New, shared, salt, info)
	key := make([]byte, SessionKeySize)
	if _, err := r.Read(key); err != nil {
		return nil, fmt.Errorf("fcrypto: hkdf expand: %w", err)
	}
	return key, nil
}

// newGCM builds an AES-128-GCM AEAD with the standard 16-byte tag and
// 12-byte nonce.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fcrypto: aes cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// Seal encrypts plaintext into a new buffer against aad (the packet header) using
// iv (the header's first 12 bytes) and returns ciphertext||tag.
func Seal(key, iv, aad, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintext, aad), nil
}

// Open decrypts and authenticates sealed (ciphertext||tag) against aad
// and iv. A tag mismatch is reported as a generic error; callers wrap it
// in ferrors.PacketError and drop the packet rather than inspecting it.
func Open(key, iv, aad, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, sealed, aad)
}

// GenerateRootKey creates the server's long-lived ECDSA P-256 signing key.
func GenerateRootKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// Sign computes an ECDSA-P256/SHA-256 signature over msg (the
// unencrypted SERVER_HELLO body).
func Sign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}

// Verify checks sig against msg using the server's long-lived public key.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// CRC32 computes the IEEE checksum used to protect unencrypted handshake
// packets (CLIENT_HELLO, SERVER_HELLO) in place of an AEAD tag.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
