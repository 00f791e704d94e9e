package shamir

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err, "Failed to generate test secret")
	// Clear the top byte so the secret is always below the field order.
	secret[0] = 0
	return secret
}

func TestSplitReconstruct(t *testing.T) {
	secret := testSecret(t)

	buf := NewSecretBuffer(append([]byte(nil), secret...))
	shares, err := Split(buf, 3, 5, "secret-1")
	require.NoError(t, err, "Split should succeed with valid parameters")
	require.Len(t, shares, 5, "Should generate 5 shares")

	for _, s := range shares {
		assert.GreaterOrEqual(t, s.Index, 1, "Share indices start at 1")
		assert.Equal(t, "secret-1", s.SecretID)
	}

	// Any subset of size >= threshold reconstructs the identical secret.
	subsets := [][]int{
		{0, 1, 2},
		{0, 2, 4},
		{1, 3, 4},
		{0, 1, 2, 3},
		{0, 1, 2, 3, 4},
	}
	for _, idx := range subsets {
		subset := make([]*Share, 0, len(idx))
		for _, i := range idx {
			subset = append(subset, shares[i])
		}

		got, err := Reconstruct(subset)
		require.NoError(t, err, "Reconstruction should succeed from subset %v", idx)
		assert.True(t, bytes.Equal(secret, got.Bytes()),
			"Subset %v should reconstruct the original secret", idx)
		got.Wipe()
	}
}

func TestSplitParameterValidation(t *testing.T) {
	secret := testSecret(t)

	_, err := Split(NewSecretBuffer(append([]byte(nil), secret...)), 1, 5, "s")
	assert.Error(t, err, "Should fail when threshold < 2")

	_, err = Split(NewSecretBuffer(append([]byte(nil), secret...)), 6, 5, "s")
	assert.Error(t, err, "Should fail when threshold > total shares")

	_, err = Split(NewSecretBuffer(make([]byte, 16)), 2, 3, "s")
	assert.Error(t, err, "Should fail with a secret that is not 32 bytes")
}

func TestReconstructTooFewShares(t *testing.T) {
	secret := testSecret(t)

	shares, err := Split(NewSecretBuffer(append([]byte(nil), secret...)), 3, 5, "s")
	require.NoError(t, err)

	_, err = Reconstruct(shares[:1])
	assert.ErrorIs(t, err, ErrTooFewShares, "Reconstruction with one share must fail")

	_, err = Reconstruct(nil)
	assert.ErrorIs(t, err, ErrTooFewShares, "Reconstruction with no shares must fail")
}

func TestReconstructRejectsMalformedShares(t *testing.T) {
	secret := testSecret(t)

	shares, err := Split(NewSecretBuffer(append([]byte(nil), secret...)), 2, 3, "s")
	require.NoError(t, err)

	_, err = Reconstruct([]*Share{shares[0], {Index: 0, Value: shares[1].Value}})
	assert.ErrorIs(t, err, ErrMalformedShare, "Index below 1 must be rejected")

	_, err = Reconstruct([]*Share{shares[0], {Index: 2}})
	assert.ErrorIs(t, err, ErrMalformedShare, "Missing value must be rejected")

	_, err = Reconstruct([]*Share{shares[0], shares[0]})
	assert.ErrorIs(t, err, ErrMalformedShare, "Duplicate indices must be rejected")
}

func TestShareWipe(t *testing.T) {
	secret := testSecret(t)

	shares, err := Split(NewSecretBuffer(append([]byte(nil), secret...)), 2, 3, "s")
	require.NoError(t, err)

	shares[0].Wipe()
	assert.True(t, shares[0].Value.IsZero(), "Wipe should zero the share value")
	shares[0].Wipe() // safe to repeat

	WipeShares(shares)
	for i, s := range shares {
		assert.True(t, s.Value.IsZero(), "Share %d should be zeroed", i)
	}
}

func TestShareHexRoundTrip(t *testing.T) {
	secret := testSecret(t)

	shares, err := Split(NewSecretBuffer(append([]byte(nil), secret...)), 2, 2, "s")
	require.NoError(t, err)

	parsed, err := NewShareFromHex(shares[0].Index, shares[0].Hex(), "s")
	require.NoError(t, err)
	assert.True(t, parsed.Value.Equals(shares[0].Value), "Hex round trip should preserve the value")

	_, err = NewShareFromHex(1, "zz", "s")
	assert.ErrorIs(t, err, ErrMalformedShare, "Non-hex share values must be rejected")

	_, err = NewShareFromHex(0, shares[0].Hex(), "s")
	assert.ErrorIs(t, err, ErrMalformedShare, "Index 0 must be rejected")
}

func TestSecretBufferWipe(t *testing.T) {
	buf := NewSecretBuffer([]byte{1, 2, 3})
	raw := buf.Bytes()
	buf.Wipe()

	assert.Equal(t, []byte{0, 0, 0}, raw, "Wipe should zero the underlying bytes")
	assert.Equal(t, 0, buf.Len(), "Wiped buffer should be empty")
}

func TestWithSecretAlwaysWipes(t *testing.T) {
	data := []byte{9, 9, 9}
	buf := NewSecretBuffer(data)

	err := WithSecret(buf, func(secret []byte) error {
		assert.Equal(t, []byte{9, 9, 9}, secret)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []byte{0, 0, 0}, data, "Secret must be wiped even when fn fails")
}
