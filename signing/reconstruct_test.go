package signing

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/shamir"
	"github.com/OV1-Kenobi/satnam-pub-sub020/storage"
)

var testTemplate = []byte(`{"kind":1,"content":"hello"}`)

// reconstructFixture splits a known secret so tests can hand guardians real
// shares and check the reassembled key byte for byte.
type reconstructFixture struct {
	svc      *ReconstructionService
	secret   []byte
	shares   []*shamir.Share
	signed   [][]byte
	signErr  error
	eventIDs []string
}

func newReconstructFixture(t *testing.T) *reconstructFixture {
	t.Helper()

	secret, err := hex.DecodeString("00a1b2c3d4e5f60718293a4b5c6d7e8f908172635445362718090a0b0c0d0e0f")
	require.NoError(t, err)

	buf := shamir.NewSecretBuffer(append([]byte(nil), secret...))
	shares, err := shamir.Split(buf, 2, 3, "fixture")
	require.NoError(t, err)

	f := &reconstructFixture{secret: secret, shares: shares}
	signPublish := func(ctx context.Context, secretKey []byte, template []byte) (string, error) {
		if f.signErr != nil {
			return "", f.signErr
		}
		f.signed = append(f.signed, append([]byte(nil), secretKey...))
		id := "event-1"
		f.eventIDs = append(f.eventIDs, id)
		return id, nil
	}

	f.svc = NewReconstructionService(storage.NewMemoryStore(), signPublish, slog.Default())
	return f
}

func (f *reconstructFixture) createRequest(t *testing.T) *interfaces.ReconstructionRequest {
	t.Helper()
	request, err := f.svc.CreateRequest(context.Background(), testFamily,
		[]interfaces.GuardianID{guardianOne, guardianTwo, guardianThree}, 2, testTemplate, 0)
	require.NoError(t, err)
	return request
}

func TestCreateRequestValidation(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	guardians := []interfaces.GuardianID{guardianOne, guardianTwo}

	_, err := f.svc.CreateRequest(ctx, testFamily, nil, 2, testTemplate, 0)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = f.svc.CreateRequest(ctx, testFamily, guardians, 1, testTemplate, 0)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = f.svc.CreateRequest(ctx, testFamily, guardians, 3, testTemplate, 0)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = f.svc.CreateRequest(ctx, testFamily, guardians, 2, nil, 0)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))
}

func TestSubmitShareCompletesAtThreshold(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	updated, err := f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[0].Index, f.shares[0].Hex())
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestPending, updated.Status)

	updated, err = f.svc.SubmitShare(ctx, request.ID, guardianTwo, f.shares[1].Index, f.shares[1].Hex())
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestCompleted, updated.Status)
	assert.Equal(t, "event-1", updated.FinalEventID)

	// The reconstructed key matched the original secret exactly once.
	require.Len(t, f.signed, 1)
	assert.True(t, bytes.Equal(f.secret, f.signed[0]))

	// Late shares find the request terminal.
	_, err = f.svc.SubmitShare(ctx, request.ID, guardianThree, f.shares[2].Index, f.shares[2].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeState))
}

func TestSubmitShareReplayRejections(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	_, err := f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[0].Index, f.shares[0].Hex())
	require.NoError(t, err)

	// Same guardian again, even with a fresh share.
	_, err = f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[1].Index, f.shares[1].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeReplay))

	// Same index from a different guardian.
	_, err = f.svc.SubmitShare(ctx, request.ID, guardianTwo, f.shares[0].Index, f.shares[0].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeReplay))
}

func TestSubmitShareValidation(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	_, err := f.svc.SubmitShare(ctx, request.ID, outsider, f.shares[0].Index, f.shares[0].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = f.svc.SubmitShare(ctx, request.ID, guardianOne, 0, f.shares[0].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = f.svc.SubmitShare(ctx, request.ID, guardianOne, 1, "too-short")
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = f.svc.SubmitShare(ctx, "missing", guardianOne, f.shares[0].Index, f.shares[0].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeNotFound))
}

func TestSubmitShareExpired(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	f.svc.now = func() time.Time { return request.ExpiresAt.Add(time.Second) }

	_, err := f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[0].Index, f.shares[0].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeTimeout))
}

func TestSubmitShareSigningFailureFailsRequest(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	f.signErr = errors.New("no relay accepted the event")

	_, err := f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[0].Index, f.shares[0].Hex())
	require.NoError(t, err)
	_, err = f.svc.SubmitShare(ctx, request.ID, guardianTwo, f.shares[1].Index, f.shares[1].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeAggregation))

	failed, err := f.svc.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestFailed, failed.Status)
	assert.NotEmpty(t, failed.ErrorMessage)
}

func TestFailRequest(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	require.NoError(t, f.svc.FailRequest(ctx, request.ID, "guardian unreachable"))

	failed, err := f.svc.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestFailed, failed.Status)

	// Held shares were dropped with the request.
	_, err = f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[0].Index, f.shares[0].Hex())
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeState))
}

func TestExpireOldRequests(t *testing.T) {
	f := newReconstructFixture(t)
	ctx := context.Background()
	request := f.createRequest(t)

	_, err := f.svc.SubmitShare(ctx, request.ID, guardianOne, f.shares[0].Index, f.shares[0].Hex())
	require.NoError(t, err)

	f.svc.now = func() time.Time { return request.ExpiresAt.Add(time.Minute) }

	swept, err := f.svc.ExpireOldRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	expired, err := f.svc.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestExpired, expired.Status)

	// The coordinator no longer holds state for the request.
	f.svc.mu.Lock()
	_, held := f.svc.pending[request.ID]
	f.svc.mu.Unlock()
	assert.False(t, held)
}
