// Package interfaces defines the core types and ports for the guardian
// threshold signing service. It provides the contract between components
// without implementation details.
package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GuardianID identifies one of the parties jointly controlling an identity's
// signing capability. It is the guardian's Nostr public key in hex form.
type GuardianID string

// Validate checks the guardian ID is a 64-character hex public key.
func (id GuardianID) Validate() error {
	if len(id) != 64 {
		return errors.New("invalid guardian ID length: must be 64 hex characters")
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return fmt.Errorf("invalid guardian ID format: %w", err)
	}
	return nil
}

// String returns the guardian ID as a string.
func (id GuardianID) String() string {
	return string(id)
}

// FamilyID identifies the federation whose shared identity is being signed for.
type FamilyID string

// String returns the family ID as a string.
func (id FamilyID) String() string {
	return string(id)
}

// MessageDigest is the 32-byte hash of the message a session signs.
type MessageDigest [32]byte

// NewMessageDigestFromBytes creates a message digest from a 32-byte slice.
func NewMessageDigestFromBytes(source []byte) (MessageDigest, error) {
	if len(source) != 32 {
		return MessageDigest{}, errors.New("invalid message digest: must be 32 bytes")
	}

	var digest [32]byte
	copy(digest[:], source)
	return MessageDigest(digest), nil
}

// NewMessageDigestFromHex creates a message digest from a hex string.
func NewMessageDigestFromHex(source string) (MessageDigest, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return MessageDigest{}, errors.New("invalid message digest length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return MessageDigest{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewMessageDigestFromBytes(raw)
}

// ComputeDigest calculates the digest of a message.
func ComputeDigest(data []byte) MessageDigest {
	return MessageDigest(sha256.Sum256(data))
}

// String returns the hex representation of the digest.
func (d MessageDigest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns the raw 32-byte digest.
func (d MessageDigest) Bytes() []byte {
	return d[:]
}

// SessionStatus is the lifecycle state of a threshold signing session.
type SessionStatus string

const (
	// SessionPending means the session was created and is accepting nonce commitments.
	SessionPending SessionStatus = "pending"

	// SessionCollectingCommitments means enough commitments arrived and the
	// session is accepting partial signatures.
	SessionCollectingCommitments SessionStatus = "collecting_commitments"

	// SessionAggregating means aggregation of partial signatures is in progress.
	SessionAggregating SessionStatus = "aggregating"

	// SessionCompleted is the success terminal state; the final signature is set.
	SessionCompleted SessionStatus = "completed"

	// SessionFailed is the failure terminal state.
	SessionFailed SessionStatus = "failed"

	// SessionExpired means the session passed its expiry before completing.
	SessionExpired SessionStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// SigningSession coordinates guardians through the two-round threshold signing
// protocol for exactly one message. The private key never exists in full.
type SigningSession struct {
	ID             string
	FamilyID       FamilyID
	MessageDigest  MessageDigest
	Participants   []GuardianID
	Threshold      int
	Status         SessionStatus
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Round1Started  *time.Time
	Round2Started  *time.Time
	FinalSignature string
	ErrorMessage   string
}

// HasParticipant reports whether the guardian is part of this session.
func (s *SigningSession) HasParticipant(id GuardianID) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// NonceCommitment is a participant's single-use round-1 commitment.
// The commitment value is unique across all sessions ever created; reusing a
// nonce across two messages under the same key leaks the private key.
type NonceCommitment struct {
	SessionID     string
	ParticipantID GuardianID
	Value         string
	Used          bool
	CreatedAt     time.Time
	UsedAt        *time.Time
}

// PartialSignature is one guardian's round-2 contribution, combined with
// others at aggregation time.
type PartialSignature struct {
	SessionID     string
	ParticipantID GuardianID
	Value         string
	CreatedAt     time.Time
}

// RequestStatus is the lifecycle state of a reconstruction signing request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
	RequestExpired   RequestStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed || s == RequestExpired
}

// ReconstructionRequest coordinates guardians through the one-round
// reconstruct-sign-discard protocol. Unlike a SigningSession the key briefly
// exists in full at the coordinator, traded for lower latency and tolerance
// of offline guardians.
type ReconstructionRequest struct {
	ID                string
	FamilyID          FamilyID
	RequiredGuardians []GuardianID
	Threshold         int
	Status            RequestStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
	FinalEventID      string
	ErrorMessage      string
}

// RotationSchedule tracks when a user's shared identity key is due for
// replacement. Schedules are never deleted, only disabled.
type RotationSchedule struct {
	ID                   string
	UserID               string
	RotationIntervalDays int
	LastRotationAt       *time.Time
	NextRotationAt       time.Time
	Enabled              bool
	RotationCount        int
	AverageRotationTime  time.Duration
	LastStatus           string
}

// AuditEntry is one immutable event in a rotation audit trail.
type AuditEntry struct {
	EventType string
	Timestamp time.Time
	Actor     string
	Details   string
}

// TrailStatus is the derived summary status of a rotation audit trail.
type TrailStatus string

const (
	TrailInProgress TrailStatus = "in_progress"
	TrailCompleted  TrailStatus = "completed"
	TrailFailed     TrailStatus = "failed"
	TrailRolledBack TrailStatus = "rolled_back"
)

// RotationAuditTrail is the append-only timeline of a single rotation.
// The status is a derived summary and entries are never edited retroactively.
type RotationAuditTrail struct {
	RotationID  string
	UserID      string
	Entries     []AuditEntry
	Status      TrailStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}
