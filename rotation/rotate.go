package rotation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/shamir"
)

// Rotation carries the context a step runner needs to execute one rotation
// step. It never contains private key material.
type Rotation struct {
	ID           string
	UserID       string
	FamilyID     interfaces.FamilyID
	OldPublicKey string
	NewPublicKey string
}

// StepRunner executes the externally visible rotation steps: publishing the
// delegation and deprecation events, updating profile and identifier records,
// notifying contacts and rewriting durable storage. The coordinator owns
// ordering, auditing and the checklist; runners own the side effects.
type StepRunner interface {
	Run(ctx context.Context, step StepName, rotation *Rotation) error
}

// GuardianShare is one guardian's fragment of the new key, hex encoded for
// immediate delivery. Deliver and discard promptly.
type GuardianShare struct {
	Index int
	Value string
}

// Result is the outcome of one rotation attempt.
type Result struct {
	RotationID     string
	NewPublicKey   string
	GuardianShares map[interfaces.GuardianID]GuardianShare
	Summary        Summary
	Duration       time.Duration
}

// Coordinator drives a scheduled key rotation end to end: fresh key material,
// share distribution, the verification checklist, the audit trail and the
// schedule update.
type Coordinator struct {
	scheduler *Scheduler
	auditor   *Auditor
	runner    StepRunner
	log       *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a rotation coordinator.
func NewCoordinator(scheduler *Scheduler, auditor *Auditor, runner StepRunner, log *slog.Logger) *Coordinator {
	return &Coordinator{
		scheduler: scheduler,
		auditor:   auditor,
		runner:    runner,
		log:       log.With("component", "rotation_coordinator"),
		now:       time.Now,
	}
}

// PerformRotation runs one rotation for the schedule. The new private key is
// generated, split among the guardians and wiped; it exists in full only for
// the duration of the split. A critical checklist step failing aborts the
// rotation; non-critical failures are recorded and the remaining steps still
// run.
func (c *Coordinator) PerformRotation(ctx context.Context, schedule *interfaces.RotationSchedule, familyID interfaces.FamilyID, oldPublicKey string, guardians []interfaces.GuardianID, threshold int) (*Result, error) {
	started := c.now().UTC()
	rotationID := uuid.New().String()

	if _, err := c.auditor.StartTrail(ctx, rotationID, schedule.UserID); err != nil {
		return nil, err
	}
	c.audit(ctx, rotationID, EventRotationStarted, "coordinator",
		fmt.Sprintf("rotation started for family %s", familyID))

	newSecret, newPublicKey, err := generateKeyMaterial(familyID)
	if err != nil {
		return nil, c.abort(ctx, rotationID, schedule, fmt.Errorf("key generation failed: %w", err))
	}
	c.audit(ctx, rotationID, EventKeyGenerated, "coordinator", "new identity key generated")

	shares, err := shamir.Split(newSecret, threshold, len(guardians), rotationID)
	if err != nil {
		newSecret.Wipe()
		return nil, c.abort(ctx, rotationID, schedule, fmt.Errorf("share split failed: %w", err))
	}
	newSecret.Wipe()

	guardianShares := make(map[interfaces.GuardianID]GuardianShare, len(guardians))
	for i, g := range guardians {
		guardianShares[g] = GuardianShare{Index: shares[i].Index, Value: shares[i].Hex()}
	}
	shamir.WipeShares(shares)
	c.audit(ctx, rotationID, EventSharesDistributed, "coordinator",
		fmt.Sprintf("%d shares prepared with threshold %d", len(guardians), threshold))

	rotation := &Rotation{
		ID:           rotationID,
		UserID:       schedule.UserID,
		FamilyID:     familyID,
		OldPublicKey: oldPublicKey,
		NewPublicKey: newPublicKey,
	}

	checklist := NewChecklist()
	for _, step := range checklist.Steps() {
		if step.Name == StepAuditRecord {
			// The trail itself is the audit record.
			checklist.MarkCompleted(step.Name)
			continue
		}

		if err := c.runner.Run(ctx, step.Name, rotation); err != nil {
			checklist.MarkFailed(step.Name, err.Error())
			c.audit(ctx, rotationID, EventStepFailed, "coordinator",
				fmt.Sprintf("step %s failed: %v", step.Name, err))

			if step.Critical {
				summary := checklist.Summarize()
				result := &Result{
					RotationID:     rotationID,
					NewPublicKey:   newPublicKey,
					GuardianShares: guardianShares,
					Summary:        summary,
					Duration:       c.now().UTC().Sub(started),
				}
				return result, c.abort(ctx, rotationID, schedule,
					fmt.Errorf("critical step %s failed: %w", step.Name, err))
			}
			continue
		}

		checklist.MarkCompleted(step.Name)
		c.audit(ctx, rotationID, EventStepCompleted, "coordinator", string(step.Name))
	}

	duration := c.now().UTC().Sub(started)
	summary := checklist.Summarize()

	if summary.Overall == StatusFailed || summary.CriticalFailures {
		if _, err := c.scheduler.UpdateAfterFailure(ctx, schedule.ID, "verification failed"); err != nil {
			c.log.Error("Failed to record rotation failure", "scheduleID", schedule.ID, "err", err)
		}
		if err := c.auditor.MarkFailed(ctx, rotationID); err != nil {
			c.log.Error("Failed to close audit trail", "rotationID", rotationID, "err", err)
		}
	} else {
		if _, err := c.scheduler.UpdateAfterRotation(ctx, schedule.ID, duration); err != nil {
			c.log.Error("Failed to advance schedule", "scheduleID", schedule.ID, "err", err)
		}
		c.audit(ctx, rotationID, EventRotationCompleted, "coordinator",
			fmt.Sprintf("rotation finished in %s", duration))
		if err := c.auditor.MarkCompleted(ctx, rotationID); err != nil {
			c.log.Error("Failed to close audit trail", "rotationID", rotationID, "err", err)
		}
	}

	c.log.Info("Rotation finished",
		"rotationID", rotationID,
		"overall", string(summary.Overall),
		"duration", duration)

	return &Result{
		RotationID:     rotationID,
		NewPublicKey:   newPublicKey,
		GuardianShares: guardianShares,
		Summary:        summary,
		Duration:       duration,
	}, nil
}

func (c *Coordinator) audit(ctx context.Context, rotationID, eventType, actor, details string) {
	if err := c.auditor.AddEntry(ctx, rotationID, eventType, actor, details); err != nil {
		c.log.Error("Failed to append audit entry", "rotationID", rotationID, "err", err)
	}
}

func (c *Coordinator) abort(ctx context.Context, rotationID string, schedule *interfaces.RotationSchedule, cause error) error {
	c.audit(ctx, rotationID, EventFailure, "coordinator", cause.Error())
	if err := c.auditor.MarkFailed(ctx, rotationID); err != nil {
		c.log.Error("Failed to close audit trail", "rotationID", rotationID, "err", err)
	}
	if _, err := c.scheduler.UpdateAfterFailure(ctx, schedule.ID, cause.Error()); err != nil {
		c.log.Error("Failed to record rotation failure", "scheduleID", schedule.ID, "err", err)
	}
	return cause
}

// generateKeyMaterial derives a fresh secp256k1 private key from random
// entropy, normalized for BIP-340 (even Y), and returns the 32-byte secret
// and the x-only public key in hex.
func generateKeyMaterial(familyID interfaces.FamilyID) (*shamir.SecretBuffer, string, error) {
	entropy, err := shamir.NewRandomSecret(32)
	if err != nil {
		return nil, "", err
	}
	defer entropy.Wipe()

	reader := hkdf.New(sha256.New, entropy.Bytes(), []byte(familyID), []byte("identity key rotation"))

	secret := new(btcec.ModNScalar)
	buf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, "", err
		}
		if overflow := secret.SetByteSlice(buf); !overflow && !secret.IsZero() {
			break
		}
	}
	for i := range buf {
		buf[i] = 0
	}

	// Negate before splitting if Y is odd so the shared key matches its
	// x-only public key.
	pub := new(btcec.JacobianPoint)
	btcec.ScalarBaseMultNonConst(secret, pub)
	pub.ToAffine()
	if pub.Y.IsOdd() {
		secret.Negate()
		btcec.ScalarBaseMultNonConst(secret, pub)
		pub.ToAffine()
	}

	raw := secret.Bytes()
	secret.Zero()
	out := make([]byte, 32)
	copy(out, raw[:])
	for i := range raw {
		raw[i] = 0
	}

	xBytes := pub.X.Bytes()
	return shamir.NewSecretBuffer(out), fmt.Sprintf("%x", xBytes[:]), nil
}
