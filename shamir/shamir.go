// Package shamir implements Shamir secret splitting and reconstruction over
// the secp256k1 scalar field, the curve order used by Nostr identities.
// A secret split with threshold T into N shares reconstructs identically from
// any subset of at least T shares.
package shamir

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// MinThreshold is the smallest reconstruction threshold allowed.
	MinThreshold = 2

	// MaxShares bounds the number of shares; indices must fit a single byte
	// to keep share encodings compact.
	MaxShares = 255
)

var (
	// ErrTooFewShares is returned when reconstruction is attempted with
	// fewer than two shares.
	ErrTooFewShares = errors.New("at least 2 shares required for reconstruction")

	// ErrMalformedShare is returned for shares with an invalid index or value.
	ErrMalformedShare = errors.New("malformed share")
)

// Share is one guardian's fragment of a split secret. Shares are ephemeral:
// hold them only as long as needed and call Wipe after use.
type Share struct {
	// Index is the x-coordinate the polynomial was evaluated at, starting at 1.
	Index int

	// Value is the y-coordinate, a scalar in the secp256k1 group order field.
	Value *btcec.ModNScalar

	// SecretID identifies the secret this share belongs to.
	SecretID string
}

// NewShareFromHex parses a share from its index and hex-encoded 32-byte value.
func NewShareFromHex(index int, hexValue, secretID string) (*Share, error) {
	if index < 1 || index > MaxShares {
		return nil, fmt.Errorf("%w: index %d out of range", ErrMalformedShare, index)
	}

	raw, err := hex.DecodeString(hexValue)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: value must be 32 hex-encoded bytes", ErrMalformedShare)
	}

	value := new(btcec.ModNScalar)
	if overflow := value.SetByteSlice(raw); overflow {
		return nil, fmt.Errorf("%w: value exceeds field order", ErrMalformedShare)
	}

	wipeBytes(raw)
	return &Share{Index: index, Value: value, SecretID: secretID}, nil
}

// Hex returns the hex encoding of the share value.
func (s *Share) Hex() string {
	raw := s.Value.Bytes()
	out := hex.EncodeToString(raw[:])
	wipeBytes(raw[:])
	return out
}

// Validate checks the share is well formed.
func (s *Share) Validate() error {
	if s == nil || s.Value == nil {
		return fmt.Errorf("%w: missing value", ErrMalformedShare)
	}
	if s.Index < 1 || s.Index > MaxShares {
		return fmt.Errorf("%w: index %d out of range", ErrMalformedShare, s.Index)
	}
	return nil
}

// Wipe erases the share value from memory. Safe to call more than once.
func (s *Share) Wipe() {
	if s != nil && s.Value != nil {
		s.Value.Zero()
	}
}

// WipeShares erases a batch of shares.
func WipeShares(shares []*Share) {
	for _, s := range shares {
		s.Wipe()
	}
}

// Split divides a 32-byte secret into totalShares shares with the given
// reconstruction threshold. It draws threshold-1 random field elements as
// polynomial coefficients with the secret as the constant term, then
// evaluates the polynomial at x = 1..totalShares.
func Split(secret *SecretBuffer, threshold, totalShares int, secretID string) ([]*Share, error) {
	if threshold < MinThreshold {
		return nil, fmt.Errorf("threshold must be at least %d", MinThreshold)
	}
	if totalShares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}
	if totalShares > MaxShares {
		return nil, fmt.Errorf("total shares must not exceed %d", MaxShares)
	}
	if secret == nil || secret.Len() != 32 {
		return nil, errors.New("secret must be exactly 32 bytes")
	}

	constant := new(btcec.ModNScalar)
	if overflow := constant.SetByteSlice(secret.Bytes()); overflow {
		return nil, errors.New("secret exceeds field order")
	}

	// Polynomial coefficients, constant term first.
	coeffs := make([]*btcec.ModNScalar, threshold)
	coeffs[0] = constant
	for i := 1; i < threshold; i++ {
		c, err := randomScalar()
		if err != nil {
			return nil, fmt.Errorf("failed to draw polynomial coefficient: %w", err)
		}
		coeffs[i] = c
	}
	defer func() {
		for _, c := range coeffs {
			c.Zero()
		}
	}()

	shares := make([]*Share, totalShares)
	for i := 0; i < totalShares; i++ {
		x := scalarFromIndex(i + 1)
		shares[i] = &Share{
			Index:    i + 1,
			Value:    evaluatePolynomial(coeffs, x),
			SecretID: secretID,
		}
	}

	return shares, nil
}

// Reconstruct recovers the secret from at least two shares via Lagrange
// interpolation at zero. With fewer than the original threshold the result
// is indistinguishable from random, so callers enforce the threshold at the
// protocol layer; here only the hard minimum and share shape are checked.
func Reconstruct(shares []*Share) (*SecretBuffer, error) {
	if len(shares) < MinThreshold {
		return nil, ErrTooFewShares
	}

	seen := make(map[int]struct{}, len(shares))
	for _, s := range shares {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrMalformedShare, s.Index)
		}
		seen[s.Index] = struct{}{}
	}

	secret := new(btcec.ModNScalar)
	for i, si := range shares {
		// Lagrange basis at zero: prod over j != i of x_j / (x_j - x_i).
		basis := scalarFromIndex(1)
		for j, sj := range shares {
			if j == i {
				continue
			}

			num := scalarFromIndex(sj.Index)

			negXi := scalarFromIndex(si.Index)
			negXi.Negate()
			denom := scalarFromIndex(sj.Index)
			denom.Add(negXi)
			denom.InverseNonConst()

			basis.Mul(num).Mul(denom)
		}

		term := new(btcec.ModNScalar).Set(si.Value)
		term.Mul(basis)
		secret.Add(term)
		term.Zero()
	}

	raw := secret.Bytes()
	secret.Zero()
	out := make([]byte, 32)
	copy(out, raw[:])
	wipeBytes(raw[:])

	return NewSecretBuffer(out), nil
}

// evaluatePolynomial computes the polynomial at x using Horner's method.
func evaluatePolynomial(coeffs []*btcec.ModNScalar, x *btcec.ModNScalar) *btcec.ModNScalar {
	acc := new(btcec.ModNScalar)
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(x)
		acc.Add(coeffs[i])
	}
	return acc
}

// randomScalar draws a uniformly random non-zero field element.
func randomScalar() (*btcec.ModNScalar, error) {
	var buf [32]byte
	s := new(btcec.ModNScalar)
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		overflow := s.SetByteSlice(buf[:])
		wipeBytes(buf[:])
		if !overflow && !s.IsZero() {
			return s, nil
		}
	}
}

func scalarFromIndex(index int) *btcec.ModNScalar {
	s := new(btcec.ModNScalar)
	s.SetInt(uint32(index))
	return s
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
