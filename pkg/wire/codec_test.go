package wire

import (
	"bytes"
	"testing"

	"github.com/fosonet/fosonet/pkg/seqnum"
)

func buildAndEncode(t *testing.T, typ Type, msgs []Message, key []byte) []byte {
	t.Helper()
	payload := BuildPayload(msgs)
	h := BuildHeader(Header{
		Magic: MagicClientToServer,
		Seq:   seqnum.SeqNum(42),
		Ack:   seqnum.SeqNum(7),
		Type:  typ,
	}, payload, msgs)
	data, err := Encode(h, payload, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestSingleMessageRoundTripEncrypted(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i * 3)
	}
	msgs := []Message{{Seq: seqnum.SeqNum(5), Type: TypeApp, Payload: []byte("hello")}}
	data := buildAndEncode(t, TypeApp, msgs, key)

	header, decoded, err := Decode(data, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if header.Seq != 42 || header.Ack != 7 {
		t.Fatalf("header fields mismatch: %+v", header)
	}
	if len(decoded) != 1 || !bytes.Equal(decoded[0].Payload, []byte("hello")) {
		t.Fatalf("unexpected decoded messages: %+v", decoded)
	}
	if decoded[0].Seq != 5 {
		t.Fatalf("expected msg seq 5, got %d", decoded[0].Seq)
	}
}

func TestMultiMessageRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	msgs := []Message{
		{Seq: 1, Type: TypeApp, Payload: []byte("one")},
		{Seq: 2, Type: TypeApp, Payload: []byte("two")},
		{Seq: 3, Type: TypeKeepAlive, Payload: nil},
	}
	data := buildAndEncode(t, TypeApp, msgs, key)

	_, decoded, err := Decode(data, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(decoded))
	}
	for i, m := range msgs {
		if decoded[i].Seq != m.Seq || decoded[i].Type != m.Type || !bytes.Equal(decoded[i].Payload, m.Payload) {
			t.Errorf("message %d mismatch: got %+v, want %+v", i, decoded[i], m)
		}
	}
}

func TestHelloPacketUsesCRCNotAEAD(t *testing.T) {
	msgs := []Message{{Seq: 1, Type: TypeClientHello, Payload: []byte("padding")}}
	data := buildAndEncode(t, TypeClientHello, msgs, nil)

	// a non-nil key must not change hello-packet handling
	_, decoded, err := Decode(data, []byte("ignored-key-ignored-key"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded[0].Payload, []byte("padding")) {
		t.Fatalf("unexpected payload: %s", decoded[0].Payload)
	}
}

func TestDecodeRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 16)
	msgs := []Message{{Seq: 1, Type: TypeApp, Payload: []byte("payload")}}
	data := buildAndEncode(t, TypeApp, msgs, key)
	data[len(data)-1] ^= 0xFF

	if _, _, err := Decode(data, key); err == nil {
		t.Fatal("expected tampered ciphertext to be rejected")
	}
}

func TestDecodeRejectsCRCMismatch(t *testing.T) {
	msgs := []Message{{Seq: 1, Type: TypeClientHello, Payload: []byte("padding")}}
	data := buildAndEncode(t, TypeClientHello, msgs, nil)
	data[len(data)-1] ^= 0xFF

	if _, _, err := Decode(data, nil); err == nil {
		t.Fatal("expected CRC mismatch to be rejected")
	}
}

func TestOverheadBytes(t *testing.T) {
	if Overhead(1) != 2 {
		t.Errorf("expected overhead 2 for a single message, got %d", Overhead(1))
	}
	if Overhead(2) != 5 {
		t.Errorf("expected overhead 5 for multi-message packets, got %d", Overhead(2))
	}
}
