package conn

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/ferrors"
	"github.com/fosonet/fosonet/pkg/seqnum"
	"github.com/fosonet/fosonet/pkg/tlv"
	"github.com/fosonet/fosonet/pkg/wire"
)

// ProtocolVersion is advertised by clients in CLIENT_HELLO so a server
// can reject an incompatible build before spending a handshake slot.
const ProtocolVersion = "fosonet-v1"

// buildHelloHeader fills in the fixed parts of a handshake packet
// header; handshake packets always use packet-seq 1 and carry no ack,
// since they precede any session state that would make those fields
// meaningful.
func buildHelloHeader(magic [4]byte, typ wire.Type, now time.Time) wire.Header {
	return wire.Header{
		Magic: magic,
		SendTime: uint32(now.Unix()),
		Seq:  seqnum.SeqNum(1),
		Type: typ,
	}
}

// encodeClientHelloBody tlv-encodes the client's ephemeral public key
// and protocol version, then appends a zero-filled bytes field whose
// content brings the total to wire.MaxPayload bytes (the body ends up
// MaxPayload plus that field's 6-byte tag and length prefix), so the
// CLIENT_HELLO's on-wire size defeats reflection amplification
// (the SERVER_HELLO response is never larger than the request).
func encodeClientHelloBody(pub *ecdh.PublicKey) ([]byte, error) {
	enc := tlv.NewEncoder(nil)
	if err := enc.EncodeBytes(pub.Bytes()); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(ProtocolVersion); err != nil {
		return nil, err
	}
	body := enc.Bytes()
	if len(body) < wire.MaxPayload {
		pad := make([]byte, wire.MaxPayload-len(body))
		padEnc := tlv.NewEncoder(nil)
		if err := padEnc.EncodeBytes(pad); err != nil {
			return nil, err
		}
		body = append(body, padEnc.Bytes()...)
	}
	return body, nil
}

// decodeClientHelloBody parses the public key and version out of a
// CLIENT_HELLO body; trailing padding is ignored.
func decodeClientHelloBody(body []byte) (pubKeyBytes []byte, version string, err error) {
	dec := tlv.NewDecoder(body, nil)
	pubKeyBytes, err = dec.DecodeBytes()
	if err != nil {
		return nil, "", ferrors.NewPacketError("client hello: bad pubkey field", err)
	}
	version, err = dec.DecodeString()
	if err != nil {
		return nil, "", ferrors.NewPacketError("client hello: bad version field", err)
	}
	return pubKeyBytes, version, nil
}

// BuildClientHello assembles a full CLIENT_HELLO datagram (header +
// CRC-protected padded body). It is a standalone builder: no Connection
// exists yet at this point in the handshake.
func BuildClientHello(now time.Time, priv *ecdh.PrivateKey) ([]byte, error) {
	body, err := encodeClientHelloBody(priv.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("conn: encode client hello: %w", err)
	}
	header := buildHelloHeader(wire.MagicClientToServer, wire.TypeClientHello, now)
	payload := wire.BuildPayload([]wire.Message{{Seq: seqnum.SeqNum(1), Type: wire.TypeClientHello, Payload: body}})
	header = wire.BuildHeader(header, payload, nil)
	header.MessageCount = 1
	return wire.Encode(header, payload, nil)
}

// ParseClientHello extracts the client's ephemeral public key from a
// received CLIENT_HELLO datagram (already codec-verified by the caller).
func ParseClientHello(messages []wire.Message) (*ecdh.PublicKey, string, error) {
	if len(messages) != 1 {
		return nil, "", ferrors.NewPacketError("client hello: expected exactly one message", nil)
	}
	pubBytes, version, err := decodeClientHelloBody(messages[0].Payload)
	if err != nil {
		return nil, "", err
	}
	pub, err := ecdh.P256().NewPublicKey(pubBytes)
	if err != nil {
		return nil, "", ferrors.NewPacketError("client hello: invalid ecdh public key", err)
	}
	return pub, version, nil
}

// encodeServerHelloUnsigned encodes the unsigned portion of a
// SERVER_HELLO body.
func encodeServerHelloUnsigned(pub *ecdh.PublicKey, salt []byte, token uint32) ([]byte, error) {
	enc := tlv.NewEncoder(nil)
	if err := enc.EncodeBytes(pub.Bytes()); err != nil {
		return nil, err
	}
	if err := enc.EncodeBytes(salt); err != nil {
		return nil, err
	}
	enc.EncodeUint(uint64(token))
	return enc.Bytes(), nil
}

// BuildServerHello assembles a full, ECDSA-signed SERVER_HELLO
// datagram. The packet itself is CRC-protected only (the client has no
// session key yet); the signature lets the client authenticate it.
func BuildServerHello(now time.Time, rootPriv *ecdsa.PrivateKey, serverPub *ecdh.PublicKey, salt []byte, token uint32) ([]byte, error) {
	unsigned, err := encodeServerHelloUnsigned(serverPub, salt, token)
	if err != nil {
		return nil, fmt.Errorf("conn: encode server hello: %w", err)
	}
	sig, err := fcrypto.Sign(rootPriv, unsigned)
	if err != nil {
		return nil, fmt.Errorf("conn: sign server hello: %w", err)
	}
	sigEnc := tlv.NewEncoder(nil)
	if err := sigEnc.EncodeBytes(sig); err != nil {
		return nil, err
	}
	body := append(unsigned, sigEnc.Bytes()...)

	header := buildHelloHeader(wire.MagicServerToClient, wire.TypeServerHello, now)
	payload := wire.BuildPayload([]wire.Message{{Seq: seqnum.SeqNum(1), Type: wire.TypeServerHello, Payload: body}})
	header = wire.BuildHeader(header, payload, nil)
	header.MessageCount = 1
	return wire.Encode(header, payload, nil)
}

// ParseAndVerifyServerHello decodes a SERVER_HELLO body and checks its
// signature against rootPub. A signature mismatch is reported as
// *ferrors.SignatureInvalidError; the client must abort the connection
// attempt on this.
func ParseAndVerifyServerHello(rootPub *ecdsa.PublicKey, messages []wire.Message) (serverPub *ecdh.PublicKey, salt []byte, token uint32, err error) {
	if len(messages) != 1 {
		return nil, nil, 0, ferrors.NewPacketError("server hello: expected exactly one message", nil)
	}
	body := messages[0].Payload
	dec := tlv.NewDecoder(body, nil)

	pubBytes, err := dec.DecodeBytes()
	if err != nil {
		return nil, nil, 0, ferrors.NewPacketError("server hello: bad pubkey field", err)
	}
	saltBytes, err := dec.DecodeBytes()
	if err != nil {
		return nil, nil, 0, ferrors.NewPacketError("server hello: bad salt field", err)
	}
	tokenVal, err := dec.DecodeUint()
	if err != nil {
		return nil, nil, 0, ferrors.NewPacketError("server hello: bad token field", err)
	}
	signedLen := len(body) - dec.Remaining()
	signedPortion := body[:signedLen]

	sig, err := dec.DecodeBytes()
	if err != nil {
		return nil, nil, 0, ferrors.NewPacketError("server hello: bad signature field", err)
	}
	if !fcrypto.Verify(rootPub, signedPortion, sig) {
		return nil, nil, 0, &ferrors.SignatureInvalidError{Reason: "server hello signature does not match embedded root public key"}
	}

	pub, err := ecdh.P256().NewPublicKey(pubBytes)
	if err != nil {
		return nil, nil, 0, ferrors.NewPacketError("server hello: invalid ecdh public key", err)
	}
	return pub, saltBytes, uint32(tokenVal), nil
}

// encodeChallengeRespBody tlv-encodes the token the client echoes back
// to prove it derived the same session key as the server.
func encodeChallengeRespBody(token uint32) []byte {
	enc := tlv.NewEncoder(nil)
	enc.EncodeUint(uint64(token))
	return enc.Bytes()
}

func decodeChallengeRespBody(body []byte) (uint32, error) {
	dec := tlv.NewDecoder(body, nil)
	token, err := dec.DecodeUint()
	if err != nil {
		return 0, ferrors.NewPacketError("challenge response: bad token field", err)
	}
	return uint32(token), nil
}
