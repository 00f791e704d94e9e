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

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return NewScheduler(storage.NewMemoryStore(), slog.Default())
}

func TestCreateScheduleDefaultsAndBounds(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 0, start)
	require.NoError(t, err)
	assert.Equal(t, DefaultIntervalDays, schedule.RotationIntervalDays)
	assert.Equal(t, start.AddDate(0, 0, DefaultIntervalDays), schedule.NextRotationAt)
	assert.True(t, schedule.Enabled)
	assert.Zero(t, schedule.RotationCount)

	_, err = s.CreateSchedule(ctx, "user-2", MinIntervalDays-1, start)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = s.CreateSchedule(ctx, "user-2", MaxIntervalDays+1, start)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	_, err = s.CreateSchedule(ctx, "", 90, start)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))
}

func TestNotificationWindows(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 90, start)
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want NotificationType
	}{
		{"far before due", start.AddDate(0, 0, 30), NotificationNone},
		{"window opens", start.AddDate(0, 0, 76).Add(time.Hour), NotificationUpcoming},
		{"day before due", start.AddDate(0, 0, 89).Add(time.Hour), NotificationDue},
		{"due date", start.AddDate(0, 0, 90), NotificationDue},
		{"within grace", start.AddDate(0, 0, 93), NotificationNone},
		{"past grace", start.AddDate(0, 0, 98), NotificationOverdue},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s.now = func() time.Time { return tc.at }
			assert.Equal(t, tc.want, s.NotificationType(schedule))
		})
	}

	// Disabled schedules never notify.
	schedule.Enabled = false
	s.now = func() time.Time { return start.AddDate(0, 0, 90) }
	assert.Equal(t, NotificationNone, s.NotificationType(schedule))
}

func TestIsDueAndOverdue(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 90, start)
	require.NoError(t, err)

	s.now = func() time.Time { return start.AddDate(0, 0, 89) }
	assert.False(t, s.IsDue(schedule))

	s.now = func() time.Time { return start.AddDate(0, 0, 90) }
	assert.True(t, s.IsDue(schedule))
	assert.False(t, s.IsOverdue(schedule))

	s.now = func() time.Time { return start.AddDate(0, 0, 98) }
	assert.True(t, s.IsOverdue(schedule))
}

func TestUpdateAfterRotationAveragesDurations(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 90, start)
	require.NoError(t, err)

	rotatedAt := start.AddDate(0, 0, 90)
	s.now = func() time.Time { return rotatedAt }

	updated, err := s.UpdateAfterRotation(ctx, schedule.ID, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RotationCount)
	assert.Equal(t, 10*time.Second, updated.AverageRotationTime)
	assert.Equal(t, "success", updated.LastStatus)
	require.NotNil(t, updated.LastRotationAt)
	assert.Equal(t, rotatedAt, *updated.LastRotationAt)
	assert.Equal(t, rotatedAt.AddDate(0, 0, 90), updated.NextRotationAt)

	// The mean folds in incrementally: (10s + 20s) / 2.
	updated, err = s.UpdateAfterRotation(ctx, schedule.ID, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.RotationCount)
	assert.Equal(t, 15*time.Second, updated.AverageRotationTime)
}

func TestUpdateAfterFailureKeepsDates(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 90, start)
	require.NoError(t, err)
	due := schedule.NextRotationAt

	updated, err := s.UpdateAfterFailure(ctx, schedule.ID, "relay unreachable")
	require.NoError(t, err)
	assert.Equal(t, "failed: relay unreachable", updated.LastStatus)
	assert.Equal(t, due, updated.NextRotationAt)
	assert.Zero(t, updated.RotationCount)
	assert.Nil(t, updated.LastRotationAt)
}

func TestUpdateRotationInterval(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 90, start)
	require.NoError(t, err)

	_, err = s.UpdateRotationInterval(ctx, schedule.ID, 10)
	assert.True(t, interfaces.IsCode(err, interfaces.ErrCodeValidation))

	// No completed rotation yet: the due date stays put.
	updated, err := s.UpdateRotationInterval(ctx, schedule.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, updated.RotationIntervalDays)
	assert.Equal(t, schedule.NextRotationAt, updated.NextRotationAt)

	// After a rotation the due date recomputes from the last one.
	rotatedAt := start.AddDate(0, 0, 90)
	s.now = func() time.Time { return rotatedAt }
	_, err = s.UpdateAfterRotation(ctx, schedule.ID, time.Second)
	require.NoError(t, err)

	updated, err = s.UpdateRotationInterval(ctx, schedule.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, rotatedAt.AddDate(0, 0, 60), updated.NextRotationAt)
}

func TestSetEnabledAndDueSchedules(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	schedule, err := s.CreateSchedule(ctx, "user-1", 90, start)
	require.NoError(t, err)

	s.now = func() time.Time { return start.AddDate(0, 0, 91) }

	due, err := s.DueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	_, err = s.SetEnabled(ctx, schedule.ID, false)
	require.NoError(t, err)

	due, err = s.DueSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}
