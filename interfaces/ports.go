package interfaces

import "context"

// ThresholdScheme is the external threshold signature primitive. The session
// machine drives it but does not implement any curve arithmetic itself.
// Commitments, partial signatures and signatures are opaque encodings owned
// by the scheme implementation.
type ThresholdScheme interface {
	// ValidateCommitment checks that an encoded nonce commitment is well
	// formed for the given participant.
	ValidateCommitment(participant GuardianID, commitment []byte) error

	// VerifyPartial checks one participant's signature share against the full
	// commitment list and message. Returns an error describing the failure.
	VerifyPartial(participant GuardianID, partial []byte, commitments [][]byte, message []byte) error

	// Aggregate combines at least threshold verified signature shares into
	// one signature over the group key, verifying the result.
	Aggregate(partials [][]byte, commitments [][]byte, message []byte) ([]byte, error)
}

// EventPublisher publishes a finished signed event to the wider protocol
// network.
type EventPublisher interface {
	// Publish broadcasts a signed event and returns its event ID.
	Publish(ctx context.Context, rawEvent []byte) (string, error)
}

// Notifier delivers rotation reminders and lifecycle notices to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, subject, body string) error
}
