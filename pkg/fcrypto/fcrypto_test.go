package fcrypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveSessionKeyMatchesBothSides(t *testing.T) {
	clientPriv, err := GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral (client): %v", err)
	}
	serverPriv, err := GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral (server): %v", err)
	}

	salt, err := RandomSalt()
	if err != nil {
		t.Fatalf("RandomSalt: %v", err)
	}

	clientKey, err := DeriveSessionKey(clientPriv, serverPriv.PublicKey(), salt, DirectionClientToServer)
	if err != nil {
		t.Fatalf("client DeriveSessionKey: %v", err)
	}
	serverKey, err := DeriveSessionKey(serverPriv, clientPriv.PublicKey(), salt, DirectionClientToServer)
	if err != nil {
		t.Fatalf("server DeriveSessionKey: %v", err)
	}

	if string(clientKey) != string(serverKey) {
		t.Fatal("client and server derived different session keys from the same ECDH handshake")
	}
	if len(clientKey) != SessionKeySize {
		t.Fatalf("expected %d-byte key, got %d", SessionKeySize, len(clientKey))
	}
}

func TestDeriveSessionKeyDirectionsDiffer(t *testing.T) {
	a, _ := GenerateEphemeral()
	b, _ := GenerateEphemeral()
	salt, _ := RandomSalt()

	k1, _ := DeriveSessionKey(a, b.PublicKey(), salt, DirectionClientToServer)
	k2, _ := DeriveSessionKey(a, b.PublicKey(), salt, DirectionServerToClient)

	if string(k1) == string(k2) {
		t.Fatal("expected different keys for different directions")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, SessionKeySize)
	iv := make([]byte, IVSize)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(i + 1)
	}
	aad := []byte("header-bytes")
	plaintext := []byte("hello fosonet")

	sealed, err := Seal(key, iv, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := Open(key, iv, aad, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, SessionKeySize)
	iv := make([]byte, IVSize)
	sealed, _ := Seal(key, iv, []byte("aad"), []byte("payload"))
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := Open(key, iv, []byte("aad"), sealed); err == nil {
		t.Fatal("expected AEAD tag mismatch to be rejected")
	}
}

func TestSignVerify(t *testing.T) {
	priv, err := GenerateRootKey()
	if err != nil {
		t.Fatalf("GenerateRootKey: %v", err)
	}
	msg := []byte("server-hello-body")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(&priv.PublicKey, msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(&priv.PublicKey, []byte("tampered"), sig) {
		t.Fatal("expected signature over different message to fail")
	}
}

func TestVerifyRejectsMismatchedKey(t *testing.T) {
	priv1, _ := GenerateRootKey()
	priv2, _ := GenerateRootKey()
	msg := []byte("server-hello-body")
	sig, _ := Sign(priv1, msg)

	if Verify(&priv2.PublicKey, msg, sig) {
		t.Fatal("expected verification against the wrong public key to fail")
	}
}

func TestCRC32Detects(t *testing.T) {
	data := []byte("handshake-payload")
	sum := CRC32(data)

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01
	if CRC32(tampered) == sum {
		t.Fatal("expected CRC32 to change after tampering")
	}
}

func TestWriteLoadRootKeyPair(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "unsafe-test")

	priv, err := GenerateRootKey()
	if err != nil {
		t.Fatalf("GenerateRootKey: %v", err)
	}
	if err := WriteRootKeyPair(name, priv); err != nil {
		t.Fatalf("WriteRootKeyPair: %v", err)
	}

	if _, err := os.Stat(name + ".key"); err != nil {
		t.Fatalf("expected .key file: %v", err)
	}
	if _, err := os.Stat(name + ".pub"); err != nil {
		t.Fatalf("expected .pub file: %v", err)
	}

	loadedPriv, err := LoadRootPrivateKey(name + ".key")
	if err != nil {
		t.Fatalf("LoadRootPrivateKey: %v", err)
	}
	loadedPub, err := LoadRootPublicKey(name + ".pub")
	if err != nil {
		t.Fatalf("LoadRootPublicKey: %v", err)
	}

	msg := []byte("round-trip-check")
	sig, err := Sign(loadedPriv, msg)
	if err != nil {
		t.Fatalf("Sign with loaded key: %v", err)
	}
	if !Verify(loadedPub, msg, sig) {
		t.Fatal("expected signature made with loaded private key to verify against loaded public key")
	}
}
