package rotation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/storage"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	return NewAuditor(storage.NewMemoryStore(), slog.Default())
}

func TestAuditTrailLifecycle(t *testing.T) {
	a := newTestAuditor(t)
	ctx := context.Background()

	trail, err := a.StartTrail(ctx, "rot-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.TrailInProgress, trail.Status)

	require.NoError(t, a.AddEntry(ctx, "rot-1", EventRotationStarted, "coordinator", "started"))
	require.NoError(t, a.AddEntry(ctx, "rot-1", EventKeyGenerated, "coordinator", "key ready"))
	require.NoError(t, a.MarkCompleted(ctx, "rot-1"))

	loaded, err := a.GetTrail(ctx, "rot-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.TrailCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, EventRotationStarted, loaded.Entries[0].EventType)

	err = a.AddEntry(ctx, "unknown", EventFailure, "coordinator", "")
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeNotFound))
}

func TestCheckForSuspiciousActivityCleanTrail(t *testing.T) {
	now := time.Now().UTC()
	trail := &interfaces.RotationAuditTrail{
		RotationID: "rot-1",
		CreatedAt:  now,
		Entries: []interfaces.AuditEntry{
			{EventType: EventRotationStarted, Timestamp: now, Actor: "coordinator"},
			{EventType: EventRotationCompleted, Timestamp: now.Add(time.Minute), Actor: "coordinator"},
		},
	}
	assert.Empty(t, CheckForSuspiciousActivity(trail))
}

func TestCheckForSuspiciousActivityWarnings(t *testing.T) {
	now := time.Now().UTC()
	completedAt := now.Add(25 * time.Hour)
	trail := &interfaces.RotationAuditTrail{
		RotationID:  "rot-1",
		CreatedAt:   now,
		CompletedAt: &completedAt,
		Entries: []interfaces.AuditEntry{
			{EventType: EventStepFailed, Timestamp: now, Actor: "alice"},
			{EventType: EventStepFailed, Timestamp: now, Actor: "bob"},
			{EventType: EventFailure, Timestamp: now, Actor: "carol"},
			{EventType: EventRollback, Timestamp: now, Actor: "carol"},
		},
	}

	warnings := CheckForSuspiciousActivity(trail)
	require.Len(t, warnings, 4)
	assert.Contains(t, warnings[0], "3 failure events")
	assert.Contains(t, warnings[1], "rollback")
	assert.Contains(t, warnings[2], "3 distinct actors")
	assert.Contains(t, warnings[3], "exceeding")
}

func TestGenerateReport(t *testing.T) {
	now := time.Now().UTC()
	completedAt := now.Add(time.Minute)
	trail := &interfaces.RotationAuditTrail{
		RotationID:  "rot-1",
		UserID:      "user-1",
		Status:      interfaces.TrailCompleted,
		CreatedAt:   now,
		CompletedAt: &completedAt,
		Entries: []interfaces.AuditEntry{
			{EventType: EventRotationStarted, Timestamp: now},
			{EventType: EventRotationCompleted, Timestamp: completedAt},
		},
	}

	report := GenerateReport(trail)
	assert.Equal(t, "rot-1", report.RotationID)
	assert.Equal(t, interfaces.TrailCompleted, report.Status)
	assert.Equal(t, time.Minute, report.Duration)
	assert.Equal(t, 2, report.EntryCount)
	assert.Empty(t, report.Warnings)
}
