package enclaveapi

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/core"
)

func TestFieldCipher_BothSidesAgree(t *testing.T) {
	alice, err := GenerateKeyPair()
	assert.NoError(t, err)
	bob, err := GenerateKeyPair()
	assert.NoError(t, err)

	sealer, err := alice.NewFieldCipher(bob.Public)
	assert.NoError(t, err)
	opener, err := bob.NewFieldCipher(alice.Public)
	assert.NoError(t, err)

	nonce, err := RandomNonce()
	assert.NoError(t, err)

	fields := []Field{U64Field(1), U64Field(42), BoolField(true)}
	cts := sealer.SealFields(nonce, fields)
	check.Equal(t, 3, len(cts))

	opened, err := opener.OpenFields(nonce, 0, cts)
	assert.NoError(t, err)
	check.Equal(t, fields, opened)

	// Each field is sealed under its own nonce offset.
	_, err = opener.OpenFields(nonce, 1, cts)
	check.Error(t, err)
	check.True(t, errors.Is(err, core.ErrDecryptionFailed))
}

func TestFieldCipher_EqualPlaintextsDiffer(t *testing.T) {
	alice, err := GenerateKeyPair()
	assert.NoError(t, err)
	bob, err := GenerateKeyPair()
	assert.NoError(t, err)
	c, err := alice.NewFieldCipher(bob.Public)
	assert.NoError(t, err)

	cts := c.SealFields(core.Nonce{}, []Field{U64Field(7), U64Field(7)})
	check.NotEqual(t, cts[0], cts[1])
}

func TestFieldCipher_WrongKeyFails(t *testing.T) {
	sandbox, err := GenerateKeyPair()
	assert.NoError(t, err)
	other, err := GenerateKeyPair()
	assert.NoError(t, err)

	enc, err := SealAmount(sandbox.Public, 1500)
	assert.NoError(t, err)

	amount, err := sandbox.OpenAmount(enc)
	assert.NoError(t, err)
	check.Equal(t, uint64(1500), amount)

	_, err = other.OpenAmount(enc)
	check.True(t, errors.Is(err, core.ErrDecryptionFailed))

	tampered := enc
	tampered.Ciphertext[0] ^= 0xff
	_, err = sandbox.OpenAmount(tampered)
	check.True(t, errors.Is(err, core.ErrDecryptionFailed))
}

func TestKeyPairFromPrivate(t *testing.T) {
	kp, err := GenerateKeyPair()
	assert.NoError(t, err)

	rebuilt, err := KeyPairFromPrivate(kp.Private())
	assert.NoError(t, err)
	check.Equal(t, kp.Public, rebuilt.Public)
}

func TestFieldEncodings(t *testing.T) {
	v, err := U64Field(^uint64(0)).U64()
	assert.NoError(t, err)
	check.Equal(t, ^uint64(0), v)

	var wide Field
	wide[12] = 1
	_, err = wide.U64()
	check.True(t, errors.Is(err, core.ErrInvalidEncryption))

	b, err := BoolField(true).Bool()
	assert.NoError(t, err)
	check.True(t, b)

	_, err = U64Field(2).Bool()
	check.Error(t, err)

	var a core.Address
	for i := range a {
		a[i] = byte(i)
	}
	lo, hi := AddressFields(a)
	check.Equal(t, a, FieldsAddress(lo, hi))
}
