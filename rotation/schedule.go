// Package rotation implements the scheduled key-replacement lifecycle:
// due-date scheduling, the rotation coordinator, the append-only audit trail
// and the step-by-step verification checklist.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

const (
	// DefaultIntervalDays is the rotation interval applied when none is given.
	DefaultIntervalDays = 90

	// MinIntervalDays and MaxIntervalDays bound the configurable interval.
	MinIntervalDays = 30
	MaxIntervalDays = 365

	// GraceDays is how long past the due date a rotation may run before it
	// counts as overdue.
	GraceDays = 7

	// UpcomingWindowDays is how far ahead of the due date the upcoming
	// notification window opens.
	UpcomingWindowDays = 14
)

// NotificationType classifies how urgently a schedule needs attention.
type NotificationType string

const (
	NotificationNone     NotificationType = "none"
	NotificationUpcoming NotificationType = "upcoming"
	NotificationDue      NotificationType = "due"
	NotificationOverdue  NotificationType = "overdue"
)

// Scheduler computes rotation due dates, notification timing and rolling
// performance metrics for periodic key replacement.
type Scheduler struct {
	store interfaces.ScheduleStore
	log   *slog.Logger
	now   func() time.Time
}

// NewScheduler creates a rotation scheduler backed by the given store.
func NewScheduler(store interfaces.ScheduleStore, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store: store,
		log:   log.With("component", "rotation_scheduler"),
		now:   time.Now,
	}
}

// CreateSchedule persists a new enabled schedule for the user. The first
// rotation is due intervalDays after startDate.
func (s *Scheduler) CreateSchedule(ctx context.Context, userID string, intervalDays int, startDate time.Time) (*interfaces.RotationSchedule, error) {
	if intervalDays == 0 {
		intervalDays = DefaultIntervalDays
	}
	if intervalDays < MinIntervalDays || intervalDays > MaxIntervalDays {
		return nil, interfaces.E(interfaces.ErrCodeValidation,
			"rotation interval must be between %d and %d days", MinIntervalDays, MaxIntervalDays)
	}
	if userID == "" {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "user ID must not be empty")
	}

	schedule := &interfaces.RotationSchedule{
		ID:                   uuid.New().String(),
		UserID:               userID,
		RotationIntervalDays: intervalDays,
		NextRotationAt:       startDate.UTC().AddDate(0, 0, intervalDays),
		Enabled:              true,
	}

	if err := s.store.CreateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.log.Info("Rotation schedule created",
		"scheduleID", schedule.ID,
		"userID", userID,
		"intervalDays", intervalDays,
		"nextRotationAt", schedule.NextRotationAt)

	return schedule, nil
}

// GetSchedule returns a schedule by id.
func (s *Scheduler) GetSchedule(ctx context.Context, id string) (*interfaces.RotationSchedule, error) {
	return s.store.GetSchedule(ctx, id)
}

// GetScheduleByUser returns the user's schedule.
func (s *Scheduler) GetScheduleByUser(ctx context.Context, userID string) (*interfaces.RotationSchedule, error) {
	return s.store.GetScheduleByUser(ctx, userID)
}

// IsDue reports whether the schedule's rotation should run now.
func (s *Scheduler) IsDue(schedule *interfaces.RotationSchedule) bool {
	return schedule.Enabled && !s.now().UTC().Before(schedule.NextRotationAt)
}

// IsOverdue reports whether the rotation is past its grace period.
func (s *Scheduler) IsOverdue(schedule *interfaces.RotationSchedule) bool {
	return schedule.Enabled && s.now().UTC().After(schedule.NextRotationAt.AddDate(0, 0, GraceDays))
}

// NotificationType returns which reminder, if any, the schedule warrants:
// due within one day either side of the due date, upcoming when 1 to 14 days
// remain, overdue beyond the grace period, otherwise none.
func (s *Scheduler) NotificationType(schedule *interfaces.RotationSchedule) NotificationType {
	if !schedule.Enabled {
		return NotificationNone
	}

	now := s.now().UTC()
	remaining := schedule.NextRotationAt.Sub(now)

	day := 24 * time.Hour
	switch {
	case remaining >= -day && remaining <= day:
		return NotificationDue
	case remaining > day && remaining <= UpcomingWindowDays*day:
		return NotificationUpcoming
	case remaining < -GraceDays*day:
		return NotificationOverdue
	default:
		return NotificationNone
	}
}

// UpdateAfterRotation records a completed rotation: advances the schedule by
// its interval, increments the rotation count and folds the duration into
// the incremental mean of rotation times.
func (s *Scheduler) UpdateAfterRotation(ctx context.Context, scheduleID string, duration time.Duration) (*interfaces.RotationSchedule, error) {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	oldCount := schedule.RotationCount

	schedule.LastRotationAt = &now
	schedule.NextRotationAt = now.AddDate(0, 0, schedule.RotationIntervalDays)
	schedule.RotationCount = oldCount + 1
	schedule.AverageRotationTime = time.Duration(
		(int64(schedule.AverageRotationTime)*int64(oldCount) + int64(duration)) / int64(oldCount+1))
	schedule.LastStatus = "success"

	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.log.Info("Schedule advanced after rotation",
		"scheduleID", scheduleID,
		"rotationCount", schedule.RotationCount,
		"nextRotationAt", schedule.NextRotationAt)

	return schedule, nil
}

// UpdateAfterFailure records a failed rotation attempt without advancing any
// dates.
func (s *Scheduler) UpdateAfterFailure(ctx context.Context, scheduleID string, reason string) (*interfaces.RotationSchedule, error) {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	schedule.LastStatus = fmt.Sprintf("failed: %s", reason)
	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.log.Warn("Rotation attempt failed", "scheduleID", scheduleID, "reason", reason)
	return schedule, nil
}

// UpdateRotationInterval changes the interval, rejecting values outside the
// allowed bounds. The next due date is recomputed from the last completed
// rotation when one exists.
func (s *Scheduler) UpdateRotationInterval(ctx context.Context, scheduleID string, intervalDays int) (*interfaces.RotationSchedule, error) {
	if intervalDays < MinIntervalDays || intervalDays > MaxIntervalDays {
		return nil, interfaces.E(interfaces.ErrCodeValidation,
			"rotation interval must be between %d and %d days", MinIntervalDays, MaxIntervalDays)
	}

	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	schedule.RotationIntervalDays = intervalDays
	if schedule.LastRotationAt != nil {
		schedule.NextRotationAt = schedule.LastRotationAt.AddDate(0, 0, intervalDays)
	}

	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// SetEnabled enables or disables the schedule. Schedules are never deleted.
func (s *Scheduler) SetEnabled(ctx context.Context, scheduleID string, enabled bool) (*interfaces.RotationSchedule, error) {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	schedule.Enabled = enabled
	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.log.Info("Schedule enabled flag changed", "scheduleID", scheduleID, "enabled", enabled)
	return schedule, nil
}

// DueSchedules returns every enabled schedule whose due date has passed.
func (s *Scheduler) DueSchedules(ctx context.Context) ([]*interfaces.RotationSchedule, error) {
	return s.store.ListDueSchedules(ctx, s.now().UTC())
}
