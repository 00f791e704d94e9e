package interfaces

import (
	"context"
	"time"
)

// Store is the durable persistence port for sessions, commitments, requests,
// schedules and audit rows. Implementations must provide row-level uniqueness
// for commitment values (globally, across all sessions ever created) and for
// the (session, participant) pair, plus conditional updates for the used-flag
// flip and status transitions. Everything else may be eventually consistent.
type Store interface {
	SessionStore
	CommitmentStore
	RequestStore
	ScheduleStore
	AuditStore
}

// SessionStore persists threshold signing sessions.
type SessionStore interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, session *SigningSession) error

	// GetSession loads a session by ID. Returns a not-found error for
	// unknown IDs.
	GetSession(ctx context.Context, id string) (*SigningSession, error)

	// UpdateSession applies a mutation to the session if and only if its
	// current status is one of from. The read-check-apply must be atomic
	// with respect to concurrent updaters. Returns the updated session, or
	// a state error when the status guard fails.
	UpdateSession(ctx context.Context, id string, from []SessionStatus, apply func(*SigningSession) error) (*SigningSession, error)

	// ExpireSessions transitions every non-terminal session whose expiry has
	// passed into SessionExpired, returning the number of rows changed.
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)

	// ListSessionsSince returns sessions created at or after since, newest
	// first, up to limit.
	ListSessionsSince(ctx context.Context, since time.Time, limit int) ([]*SigningSession, error)

	// CountSessionsByStatus counts sessions per status created at or after since.
	CountSessionsByStatus(ctx context.Context, since time.Time) (map[SessionStatus]int64, error)

	// DeleteTerminalSessionsBefore reclaims storage for terminal sessions
	// created before cutoff, along with their commitments and partials.
	DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CommitmentStore persists nonce commitments and partial signatures.
type CommitmentStore interface {
	// CreateCommitment persists a new commitment. Returns a replay error if
	// the commitment value exists anywhere in the system, or if the
	// participant already committed for this session.
	CreateCommitment(ctx context.Context, commitment *NonceCommitment) error

	// GetCommitment loads a participant's commitment for a session.
	GetCommitment(ctx context.Context, sessionID string, participant GuardianID) (*NonceCommitment, error)

	// ListCommitments returns all commitments for a session.
	ListCommitments(ctx context.Context, sessionID string) ([]*NonceCommitment, error)

	// CountCommitments counts distinct commitments for a session.
	CountCommitments(ctx context.Context, sessionID string) (int, error)

	// UseCommitment flips the participant's commitment from unused to used as
	// one atomic conditional update. Returns a state error if the commitment
	// is already used, or a not-found error if it does not exist. A
	// commitment funds at most one partial signature, ever.
	UseCommitment(ctx context.Context, sessionID string, participant GuardianID, at time.Time) error

	// CreatePartial persists a partial signature, one per participant per
	// session.
	CreatePartial(ctx context.Context, partial *PartialSignature) error

	// ListPartials returns all partial signatures for a session.
	ListPartials(ctx context.Context, sessionID string) ([]*PartialSignature, error)
}

// RequestStore persists reconstruction signing requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, request *ReconstructionRequest) error
	GetRequest(ctx context.Context, id string) (*ReconstructionRequest, error)

	// UpdateRequest applies a mutation under the same status guard semantics
	// as SessionStore.UpdateSession.
	UpdateRequest(ctx context.Context, id string, from []RequestStatus, apply func(*ReconstructionRequest) error) (*ReconstructionRequest, error)

	// ExpireRequests transitions every pending request past its expiry into
	// RequestExpired, returning the number of rows changed.
	ExpireRequests(ctx context.Context, now time.Time) (int64, error)

	ListRequestsSince(ctx context.Context, since time.Time, limit int) ([]*ReconstructionRequest, error)
	CountRequestsByStatus(ctx context.Context, since time.Time) (map[RequestStatus]int64, error)
	DeleteTerminalRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScheduleStore persists rotation schedules.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule *RotationSchedule) error
	GetSchedule(ctx context.Context, id string) (*RotationSchedule, error)
	GetScheduleByUser(ctx context.Context, userID string) (*RotationSchedule, error)
	UpdateSchedule(ctx context.Context, schedule *RotationSchedule) error

	// ListDueSchedules returns enabled schedules whose next rotation time has
	// passed.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*RotationSchedule, error)
}

// AuditStore persists rotation audit trails. Entries are append-only.
type AuditStore interface {
	CreateAuditTrail(ctx context.Context, trail *RotationAuditTrail) error
	AppendAuditEntry(ctx context.Context, rotationID string, entry AuditEntry) error
	SetAuditStatus(ctx context.Context, rotationID string, status TrailStatus, completedAt *time.Time) error
	GetAuditTrail(ctx context.Context, rotationID string) (*RotationAuditTrail, error)
}
