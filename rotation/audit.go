package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// Audit event types recorded on a rotation trail.
const (
	EventRotationStarted   = "rotation_started"
	EventKeyGenerated      = "key_generated"
	EventSharesDistributed = "shares_distributed"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventFailure           = "failure"
	EventRollback          = "rollback"
	EventRotationCompleted = "rotation_completed"
)

// Suspicious-activity thresholds. Exceeding one raises a warning, never a
// hard failure.
const (
	maxFailureEntries = 2
	maxDistinctActors = 2
	maxTrailDuration  = 24 * time.Hour
)

// Auditor maintains immutable rotation timelines. Entries are append-only;
// the trail status is a derived summary that is never edited retroactively.
type Auditor struct {
	store interfaces.AuditStore
	log   *slog.Logger
	now   func() time.Time
}

// NewAuditor creates an auditor backed by the given store.
func NewAuditor(store interfaces.AuditStore, log *slog.Logger) *Auditor {
	return &Auditor{
		store: store,
		log:   log.With("component", "rotation_audit"),
		now:   time.Now,
	}
}

// StartTrail creates a new in-progress trail for a rotation.
func (a *Auditor) StartTrail(ctx context.Context, rotationID, userID string) (*interfaces.RotationAuditTrail, error) {
	trail := &interfaces.RotationAuditTrail{
		RotationID: rotationID,
		UserID:     userID,
		Status:     interfaces.TrailInProgress,
		CreatedAt:  a.now().UTC(),
	}
	if err := a.store.CreateAuditTrail(ctx, trail); err != nil {
		return nil, err
	}
	return trail, nil
}

// AddEntry appends an event to the trail.
func (a *Auditor) AddEntry(ctx context.Context, rotationID, eventType, actor, details string) error {
	entry := interfaces.AuditEntry{
		EventType: eventType,
		Timestamp: a.now().UTC(),
		Actor:     actor,
		Details:   details,
	}
	return a.store.AppendAuditEntry(ctx, rotationID, entry)
}

// MarkCompleted sets the derived terminal status to completed.
func (a *Auditor) MarkCompleted(ctx context.Context, rotationID string) error {
	return a.markTerminal(ctx, rotationID, interfaces.TrailCompleted)
}

// MarkFailed sets the derived terminal status to failed.
func (a *Auditor) MarkFailed(ctx context.Context, rotationID string) error {
	return a.markTerminal(ctx, rotationID, interfaces.TrailFailed)
}

// MarkRolledBack sets the derived terminal status to rolled back.
func (a *Auditor) MarkRolledBack(ctx context.Context, rotationID string) error {
	return a.markTerminal(ctx, rotationID, interfaces.TrailRolledBack)
}

func (a *Auditor) markTerminal(ctx context.Context, rotationID string, status interfaces.TrailStatus) error {
	completedAt := a.now().UTC()
	if err := a.store.SetAuditStatus(ctx, rotationID, status, &completedAt); err != nil {
		return err
	}
	a.log.Info("Audit trail closed", "rotationID", rotationID, "status", string(status))
	return nil
}

// GetTrail loads a trail with all its entries.
func (a *Auditor) GetTrail(ctx context.Context, rotationID string) (*interfaces.RotationAuditTrail, error) {
	return a.store.GetAuditTrail(ctx, rotationID)
}

// CheckForSuspiciousActivity inspects a trail and returns warnings for
// patterns worth an operator's attention: repeated failures, any rollback,
// too many distinct actors, or a rotation dragging past a day. These are
// informational only.
func CheckForSuspiciousActivity(trail *interfaces.RotationAuditTrail) []string {
	var warnings []string

	failures := 0
	rollback := false
	actors := make(map[string]struct{})

	for _, e := range trail.Entries {
		if e.EventType == EventFailure || e.EventType == EventStepFailed {
			failures++
		}
		if e.EventType == EventRollback {
			rollback = true
		}
		if e.Actor != "" {
			actors[e.Actor] = struct{}{}
		}
	}

	if failures > maxFailureEntries {
		warnings = append(warnings, fmt.Sprintf("rotation recorded %d failure events", failures))
	}
	if rollback {
		warnings = append(warnings, "rotation includes a rollback event")
	}
	if len(actors) > maxDistinctActors {
		warnings = append(warnings, fmt.Sprintf("rotation involved %d distinct actors", len(actors)))
	}

	if len(trail.Entries) > 0 {
		end := trail.Entries[len(trail.Entries)-1].Timestamp
		if trail.CompletedAt != nil {
			end = *trail.CompletedAt
		}
		if duration := end.Sub(trail.CreatedAt); duration > maxTrailDuration {
			warnings = append(warnings, fmt.Sprintf("rotation took %s, exceeding %s", duration, maxTrailDuration))
		}
	}

	return warnings
}

// Report is a read-only summary of a rotation trail for operators.
type Report struct {
	RotationID string
	UserID     string
	Status     interfaces.TrailStatus
	StartedAt  time.Time
	Duration   time.Duration
	EntryCount int
	Warnings   []string
}

// GenerateReport summarizes a trail, including any suspicious-activity
// warnings.
func GenerateReport(trail *interfaces.RotationAuditTrail) Report {
	report := Report{
		RotationID: trail.RotationID,
		UserID:     trail.UserID,
		Status:     trail.Status,
		StartedAt:  trail.CreatedAt,
		EntryCount: len(trail.Entries),
		Warnings:   CheckForSuspiciousActivity(trail),
	}
	if trail.CompletedAt != nil {
		report.Duration = trail.CompletedAt.Sub(trail.CreatedAt)
	}
	return report
}
