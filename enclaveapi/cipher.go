package enclaveapi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/cloudx-io/sealedsettle/core"
)

// FieldSize is the plaintext size of one encrypted field.
const FieldSize = 16

// Field is one 16-byte plaintext field.
type Field [FieldSize]byte

var fieldCipherInfo = []byte("sealedsettle/field-cipher/v1")

// KeyPair is an x25519 key pair.
type KeyPair struct {
	Public  core.PublicKey
	private [32]byte
}

// GenerateKeyPair creates a fresh x25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return KeyPairFromPrivate(priv)
}

// KeyPairFromPrivate rebuilds a key pair from a stored private scalar.
func KeyPairFromPrivate(priv [32]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	kp := &KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Private returns the private scalar. Callers must not log it.
func (kp *KeyPair) Private() [32]byte {
	return kp.private
}

// FieldCipher seals and opens fields between two x25519 parties.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher derives the shared field key between kp and peer.
// Both sides derive the same cipher.
func (kp *KeyPair) NewFieldCipher(peer core.PublicKey) (*FieldCipher, error) {
	shared, err := curve25519.X25519(kp.private[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement: %v", core.ErrInvalidEncryption, err)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, fieldCipherInfo), key); err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, core.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// Seal encrypts field i of a call under nonce+i.
func (c *FieldCipher) Seal(nonce core.Nonce, i uint64, f Field) core.Ciphertext {
	n := nonce.Add(i)
	var ct core.Ciphertext
	c.aead.Seal(ct[:0], n[:], f[:], nil)
	return ct
}

// Open decrypts field i of a call.
func (c *FieldCipher) Open(nonce core.Nonce, i uint64, ct core.Ciphertext) (Field, error) {
	n := nonce.Add(i)
	var f Field
	if _, err := c.aead.Open(f[:0], n[:], ct[:], nil); err != nil {
		return f, fmt.Errorf("%w: field %d", core.ErrDecryptionFailed, i)
	}
	return f, nil
}

// SealFields encrypts fields in order starting at index 0.
func (c *FieldCipher) SealFields(nonce core.Nonce, fields []Field) []core.Ciphertext {
	out := make([]core.Ciphertext, len(fields))
	for i, f := range fields {
		out[i] = c.Seal(nonce, uint64(i), f)
	}
	return out
}

// OpenFields decrypts ciphertexts in order starting at index start.
func (c *FieldCipher) OpenFields(nonce core.Nonce, start uint64, cts []core.Ciphertext) ([]Field, error) {
	out := make([]Field, len(cts))
	for i, ct := range cts {
		f, err := c.Open(nonce, start+uint64(i), ct)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// RandomNonce draws a fresh call nonce.
func RandomNonce() (core.Nonce, error) {
	var n core.Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("entropy generation failed: %w", err)
	}
	return n, nil
}

// SealAmount encrypts a single amount to the sandbox key under a fresh
// ephemeral key pair, as bidders and auction creators do.
func SealAmount(sandboxKey core.PublicKey, amount uint64) (core.EncryptedAmount, error) {
	var enc core.EncryptedAmount
	eph, err := GenerateKeyPair()
	if err != nil {
		return enc, err
	}
	c, err := eph.NewFieldCipher(sandboxKey)
	if err != nil {
		return enc, err
	}
	nonce, err := RandomNonce()
	if err != nil {
		return enc, err
	}
	enc.Ciphertext = c.Seal(nonce, 0, U64Field(amount))
	enc.PublicKey = eph.Public
	enc.Nonce = nonce
	return enc, nil
}

// OpenAmount decrypts an amount sealed with SealAmount.
func (kp *KeyPair) OpenAmount(enc core.EncryptedAmount) (uint64, error) {
	c, err := kp.NewFieldCipher(enc.PublicKey)
	if err != nil {
		return 0, err
	}
	f, err := c.Open(enc.Nonce, 0, enc.Ciphertext)
	if err != nil {
		return 0, err
	}
	return f.U64()
}

// U64Field encodes v little-endian in the low 8 bytes.
func U64Field(v uint64) Field {
	var f Field
	binary.LittleEndian.PutUint64(f[:8], v)
	return f
}

// BoolField encodes b as 0 or 1.
func BoolField(b bool) Field {
	if b {
		return U64Field(1)
	}
	return U64Field(0)
}

// U64 decodes a U64Field, rejecting values that use the high bytes.
func (f Field) U64() (uint64, error) {
	for _, b := range f[8:] {
		if b != 0 {
			return 0, fmt.Errorf("%w: field exceeds 64 bits", core.ErrInvalidEncryption)
		}
	}
	return binary.LittleEndian.Uint64(f[:8]), nil
}

// Bool decodes a BoolField.
func (f Field) Bool() (bool, error) {
	v, err := f.U64()
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("%w: invalid boolean field %d", core.ErrInvalidEncryption, v)
	}
	return v == 1, nil
}

// AddressFields splits an address into its low and high halves.
func AddressFields(a core.Address) (lo, hi Field) {
	copy(lo[:], a[:FieldSize])
	copy(hi[:], a[FieldSize:])
	return lo, hi
}

// FieldsAddress joins the halves produced by AddressFields.
func FieldsAddress(lo, hi Field) core.Address {
	var a core.Address
	copy(a[:FieldSize], lo[:])
	copy(a[FieldSize:], hi[:])
	return a
}
