package core

import (
	"encoding/base64"
	"fmt"
)

// Ciphertext is one encrypted 16-byte field: AES-GCM ciphertext plus tag.
type Ciphertext [CiphertextSize]byte

// Nonce is the 128-bit nonce shared by the fields of one computation call.
type Nonce [NonceSize]byte

// PublicKey is an x25519 public key.
type PublicKey [PublicKeySize]byte

func (c Ciphertext) MarshalText() ([]byte, error) { return marshalFixed(c[:]) }
func (n Nonce) MarshalText() ([]byte, error)      { return marshalFixed(n[:]) }
func (k PublicKey) MarshalText() ([]byte, error)  { return marshalFixed(k[:]) }

func (c *Ciphertext) UnmarshalText(text []byte) error { return unmarshalFixed("ciphertext", c[:], text) }
func (n *Nonce) UnmarshalText(text []byte) error      { return unmarshalFixed("nonce", n[:], text) }
func (k *PublicKey) UnmarshalText(text []byte) error  { return unmarshalFixed("public key", k[:], text) }

func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// ParsePublicKey decodes a base64 x25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	err := k.UnmarshalText([]byte(s))
	return k, err
}

// Add returns the nonce advanced by i, treating it as a little-endian 128-bit
// counter. Field i of a call is sealed under nonce.Add(i).
func (n Nonce) Add(i uint64) Nonce {
	out := n
	carry := i
	for j := 0; j < NonceSize && carry != 0; j++ {
		sum := uint64(out[j]) + (carry & 0xff)
		out[j] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	return out
}

func marshalFixed(b []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out, nil
}

func unmarshalFixed(name string, dst, text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("invalid %s length: expected %d bytes, got %d", name, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
