package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/storage"
)

var testGuardians = []interfaces.GuardianID{
	"aa11223344556677889900aabbccddeeff00112233445566778899aabbccddee",
	"bb11223344556677889900aabbccddeeff00112233445566778899aabbccddee",
}

func newTestMonitor(t *testing.T, now time.Time) (*Monitor, interfaces.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	mon := New(store, slog.Default())
	mon.now = func() time.Time { return now }
	return mon, store
}

func seedSession(t *testing.T, store interfaces.Store, id string, status interfaces.SessionStatus, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &interfaces.SigningSession{
		ID:            id,
		FamilyID:      "family-1",
		MessageDigest: interfaces.ComputeDigest([]byte(id)),
		Participants:  testGuardians,
		Threshold:     2,
		Status:        status,
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt.Add(10 * time.Minute),
	}))
}

func seedRequest(t *testing.T, store interfaces.Store, id string, status interfaces.RequestStatus, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateRequest(context.Background(), &interfaces.ReconstructionRequest{
		ID:                id,
		FamilyID:          "family-1",
		RequiredGuardians: testGuardians,
		Threshold:         2,
		Status:            status,
		CreatedAt:         createdAt,
		ExpiresAt:         createdAt.Add(5 * time.Minute),
	}))
}

func TestGetMetrics(t *testing.T) {
	now := time.Now().UTC()
	mon, store := newTestMonitor(t, now)
	ctx := context.Background()

	seedSession(t, store, "s1", interfaces.SessionCompleted, now.Add(-time.Hour))
	seedSession(t, store, "s2", interfaces.SessionCompleted, now.Add(-time.Hour))
	seedSession(t, store, "s3", interfaces.SessionFailed, now.Add(-time.Hour))
	seedSession(t, store, "s4", interfaces.SessionPending, now.Add(-time.Minute))
	// Outside the window, must not count.
	seedSession(t, store, "s5", interfaces.SessionFailed, now.Add(-48*time.Hour))

	seedRequest(t, store, "r1", interfaces.RequestCompleted, now.Add(-time.Hour))
	seedRequest(t, store, "r2", interfaces.RequestExpired, now.Add(-time.Hour))

	metrics, err := mon.GetMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(4), metrics.SessionsCreated)
	assert.Equal(t, int64(2), metrics.SessionsCompleted)
	assert.Equal(t, int64(1), metrics.SessionsFailed)
	assert.Equal(t, int64(1), metrics.SessionsInFlight)
	assert.InDelta(t, 2.0/3.0, metrics.SessionSuccessRate, 1e-9)

	assert.Equal(t, int64(2), metrics.RequestsCreated)
	assert.InDelta(t, 0.5, metrics.RequestSuccessRate, 1e-9)
}

func TestGetMetricsEmptyStore(t *testing.T) {
	now := time.Now().UTC()
	mon, _ := newTestMonitor(t, now)

	metrics, err := mon.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, metrics.SessionsCreated)
	assert.Equal(t, 1.0, metrics.SessionSuccessRate)
	assert.Equal(t, 1.0, metrics.RequestSuccessRate)
}

func TestShouldAlert(t *testing.T) {
	now := time.Now().UTC()
	mon, store := newTestMonitor(t, now)
	ctx := context.Background()

	// Four failures: below the minimum attempt floor, no alert yet.
	for i := 0; i < 4; i++ {
		seedSession(t, store, fmt.Sprintf("s%d", i), interfaces.SessionFailed, now.Add(-time.Hour))
	}
	alert, _, err := mon.ShouldAlert(ctx)
	require.NoError(t, err)
	assert.False(t, alert)

	// A fifth failure crosses the floor with a 100% failure rate.
	seedSession(t, store, "s4", interfaces.SessionFailed, now.Add(-time.Hour))
	alert, reasons, err := mon.ShouldAlert(ctx)
	require.NoError(t, err)
	assert.True(t, alert)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "session failure rate")
}

func TestShouldAlertHealthy(t *testing.T) {
	now := time.Now().UTC()
	mon, store := newTestMonitor(t, now)

	for i := 0; i < 9; i++ {
		seedSession(t, store, fmt.Sprintf("s%d", i), interfaces.SessionCompleted, now.Add(-time.Hour))
	}
	seedSession(t, store, "s9", interfaces.SessionFailed, now.Add(-time.Hour))

	alert, reasons, err := mon.ShouldAlert(context.Background())
	require.NoError(t, err)
	assert.False(t, alert)
	assert.Empty(t, reasons)
}

func TestGetRecentActivity(t *testing.T) {
	now := time.Now().UTC()
	mon, store := newTestMonitor(t, now)

	seedSession(t, store, "s1", interfaces.SessionCompleted, now.Add(-3*time.Hour))
	seedRequest(t, store, "r1", interfaces.RequestCompleted, now.Add(-2*time.Hour))
	seedSession(t, store, "s2", interfaces.SessionPending, now.Add(-time.Hour))

	activity, err := mon.GetRecentActivity(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "s2", activity[0].ID)
	assert.Equal(t, "session", activity[0].Kind)
	assert.Equal(t, "r1", activity[1].ID)
	assert.Equal(t, "request", activity[1].Kind)
}

func TestSweep(t *testing.T) {
	now := time.Now().UTC()
	mon, store := newTestMonitor(t, now)
	ctx := context.Background()

	// Overdue and in-flight: gets expired.
	seedSession(t, store, "overdue", interfaces.SessionPending, now.Add(-time.Hour))
	// Terminal and ancient: gets pruned.
	seedSession(t, store, "ancient", interfaces.SessionCompleted, now.Add(-60*24*time.Hour))
	seedRequest(t, store, "overdue-req", interfaces.RequestPending, now.Add(-time.Hour))

	require.NoError(t, mon.Sweep(ctx))

	session, err := store.GetSession(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionExpired, session.Status)

	_, err = store.GetSession(ctx, "ancient")
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeNotFound))

	request, err := store.GetRequest(ctx, "overdue-req")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestExpired, request.Status)
}
