package shamir

import (
	"crypto/rand"
	"errors"
)

// SecretBuffer holds secret bytes with explicit wiping. Any buffer holding
// share or key material must be wiped as soon as it is no longer needed;
// callers are expected to defer Wipe immediately after obtaining one.
type SecretBuffer struct {
	data []byte
}

// NewSecretBuffer takes ownership of data. The caller must not retain data.
func NewSecretBuffer(data []byte) *SecretBuffer {
	return &SecretBuffer{data: data}
}

// NewRandomSecret creates a secret buffer with n cryptographically random bytes.
func NewRandomSecret(n int) (*SecretBuffer, error) {
	if n <= 0 {
		return nil, errors.New("secret length must be positive")
	}
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		return nil, err
	}
	return &SecretBuffer{data: data}, nil
}

// Bytes returns the underlying secret. The returned slice aliases the buffer
// and becomes invalid after Wipe.
func (b *SecretBuffer) Bytes() []byte {
	return b.data
}

// Len returns the secret length in bytes.
func (b *SecretBuffer) Len() int {
	return len(b.data)
}

// Wipe overwrites the secret with zeros. Safe to call more than once.
func (b *SecretBuffer) Wipe() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.data = nil
}

// WithSecret runs fn with the secret bytes and wipes the buffer afterwards,
// whether or not fn returns an error.
func WithSecret(b *SecretBuffer, fn func(secret []byte) error) error {
	defer b.Wipe()
	return fn(b.data)
}
