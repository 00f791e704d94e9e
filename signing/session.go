// Package signing implements the two guardian signing strategies: the
// multi-round threshold session machine, where the private key never exists
// in full, and the one-round reconstruction request, where the key is briefly
// reassembled, used and discarded.
package signing

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// DefaultSessionTTL bounds how long a signing session stays open.
const DefaultSessionTTL = 10 * time.Minute

// SessionService coordinates guardians through nonce-commitment and
// partial-signature rounds to produce one aggregate signature. Rounds are
// strictly sequential per session; concurrency exists only across sessions.
type SessionService struct {
	store  interfaces.Store
	scheme interfaces.ThresholdScheme
	log    *slog.Logger
	now    func() time.Time
}

// NewSessionService creates a session service. The store provides the
// durable state and uniqueness constraints; the scheme provides the
// threshold signature primitive.
func NewSessionService(store interfaces.Store, scheme interfaces.ThresholdScheme, log *slog.Logger) *SessionService {
	return &SessionService{
		store:  store,
		scheme: scheme,
		log:    log.With("component", "signing_session"),
		now:    time.Now,
	}
}

// CreateSession validates the participant set and persists a new pending
// session for exactly one message digest.
func (s *SessionService) CreateSession(ctx context.Context, familyID interfaces.FamilyID, digest interfaces.MessageDigest, participants []interfaces.GuardianID, threshold int, ttl time.Duration) (*interfaces.SigningSession, error) {
	if len(participants) == 0 {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "participant set must not be empty")
	}
	if threshold < 2 {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "threshold must be at least 2")
	}
	if threshold > len(participants) {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "threshold %d exceeds participant count %d", threshold, len(participants))
	}

	seen := make(map[interfaces.GuardianID]struct{}, len(participants))
	for _, p := range participants {
		if err := p.Validate(); err != nil {
			return nil, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "invalid participant")
		}
		if _, dup := seen[p]; dup {
			return nil, interfaces.E(interfaces.ErrCodeValidation, "duplicate participant in set")
		}
		seen[p] = struct{}{}
	}

	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	now := s.now().UTC()
	session := &interfaces.SigningSession{
		ID:            uuid.New().String(),
		FamilyID:      familyID,
		MessageDigest: digest,
		Participants:  participants,
		Threshold:     threshold,
		Status:        interfaces.SessionPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.log.Info("Signing session created",
		"sessionID", session.ID,
		"familyID", familyID.String(),
		"participants", len(participants),
		"threshold", threshold)

	return session, nil
}

// SubmitNonceCommitment records a participant's round-1 commitment. The
// commitment value must be globally unique across all sessions ever created;
// nonce reuse across two messages under the same key leaks the private key.
// Once threshold distinct commitments are present the session advances to
// the signing round.
func (s *SessionService) SubmitNonceCommitment(ctx context.Context, sessionID string, participant interfaces.GuardianID, value string) (*interfaces.SigningSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if now.After(session.ExpiresAt) {
		return nil, interfaces.E(interfaces.ErrCodeTimeout, "session %s has expired", sessionID)
	}
	if session.Status != interfaces.SessionPending {
		return nil, interfaces.E(interfaces.ErrCodeState, "session %s is not accepting commitments in status %s", sessionID, session.Status)
	}
	if !session.HasParticipant(participant) {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "guardian is not a participant of session %s", sessionID)
	}

	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "commitment value is not valid hex")
	}
	if err := s.scheme.ValidateCommitment(participant, raw); err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "invalid commitment")
	}

	commitment := &interfaces.NonceCommitment{
		SessionID:     sessionID,
		ParticipantID: participant,
		Value:         value,
		CreatedAt:     now,
	}
	if err := s.store.CreateCommitment(ctx, commitment); err != nil {
		return nil, err
	}

	count, err := s.store.CountCommitments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session, err = s.store.UpdateSession(ctx, sessionID, []interfaces.SessionStatus{interfaces.SessionPending}, func(sess *interfaces.SigningSession) error {
		if sess.Round1Started == nil {
			sess.Round1Started = &now
		}
		if count >= sess.Threshold {
			sess.Status = interfaces.SessionCollectingCommitments
			sess.Round2Started = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Nonce commitment accepted",
		"sessionID", sessionID,
		"commitments", count,
		"status", string(session.Status))

	return session, nil
}

// SubmitPartialSignature records a participant's round-2 signature share.
// The participant's commitment must exist and be unused; acceptance flips the
// commitment to used as one atomic conditional update, so a commitment can
// fund at most one partial signature, ever.
func (s *SessionService) SubmitPartialSignature(ctx context.Context, sessionID string, participant interfaces.GuardianID, value string) (*interfaces.SigningSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if now.After(session.ExpiresAt) {
		return nil, interfaces.E(interfaces.ErrCodeTimeout, "session %s has expired", sessionID)
	}
	if session.Status != interfaces.SessionCollectingCommitments {
		return nil, interfaces.E(interfaces.ErrCodeState, "session %s is not in its signing round (status %s)", sessionID, session.Status)
	}

	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "partial signature value is not valid hex")
	}

	commitments, err := s.commitmentBytes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.scheme.VerifyPartial(participant, raw, commitments, session.MessageDigest.Bytes()); err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "partial signature rejected")
	}

	if err := s.store.UseCommitment(ctx, sessionID, participant, now); err != nil {
		return nil, err
	}

	partial := &interfaces.PartialSignature{
		SessionID:     sessionID,
		ParticipantID: participant,
		Value:         value,
		CreatedAt:     now,
	}
	if err := s.store.CreatePartial(ctx, partial); err != nil {
		return nil, err
	}

	s.log.Debug("Partial signature accepted", "sessionID", sessionID)
	return session, nil
}

// AggregateSignatures combines the collected signature shares into one
// signature over the group key. With fewer than threshold valid shares the
// session moves to failed with an aggregation error.
func (s *SessionService) AggregateSignatures(ctx context.Context, sessionID string) (*interfaces.SigningSession, error) {
	session, err := s.store.UpdateSession(ctx, sessionID, []interfaces.SessionStatus{interfaces.SessionCollectingCommitments}, func(sess *interfaces.SigningSession) error {
		sess.Status = interfaces.SessionAggregating
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.now().UTC().After(session.ExpiresAt) {
		return nil, s.failAggregation(ctx, sessionID, interfaces.E(interfaces.ErrCodeTimeout, "session %s expired before aggregation", sessionID))
	}

	partials, err := s.store.ListPartials(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(partials) < session.Threshold {
		return nil, s.failAggregation(ctx, sessionID, interfaces.E(interfaces.ErrCodeAggregation,
			"insufficient partial signatures: have %d, need %d", len(partials), session.Threshold))
	}

	partialBytes := make([][]byte, 0, len(partials))
	for _, p := range partials {
		raw, err := hex.DecodeString(p.Value)
		if err != nil {
			return nil, s.failAggregation(ctx, sessionID, interfaces.E(interfaces.ErrCodeAggregation, "stored partial signature is corrupt"))
		}
		partialBytes = append(partialBytes, raw)
	}

	commitments, err := s.commitmentBytes(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	signature, err := s.scheme.Aggregate(partialBytes, commitments, session.MessageDigest.Bytes())
	if err != nil {
		return nil, s.failAggregation(ctx, sessionID, interfaces.WrapErr(interfaces.ErrCodeAggregation, err, "aggregation failed"))
	}

	session, err = s.store.UpdateSession(ctx, sessionID, []interfaces.SessionStatus{interfaces.SessionAggregating}, func(sess *interfaces.SigningSession) error {
		sess.Status = interfaces.SessionCompleted
		sess.FinalSignature = hex.EncodeToString(signature)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Session completed", "sessionID", sessionID)
	return session, nil
}

// FailSession moves a non-terminal session to failed with a recorded reason.
func (s *SessionService) FailSession(ctx context.Context, sessionID, reason string) error {
	nonTerminal := []interfaces.SessionStatus{
		interfaces.SessionPending,
		interfaces.SessionCollectingCommitments,
		interfaces.SessionAggregating,
	}
	_, err := s.store.UpdateSession(ctx, sessionID, nonTerminal, func(sess *interfaces.SigningSession) error {
		sess.Status = interfaces.SessionFailed
		sess.ErrorMessage = reason
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Warn("Session failed", "sessionID", sessionID, "reason", reason)
	return nil
}

// GetSession loads a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*interfaces.SigningSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ExpireOldSessions reconciles every non-terminal session past its expiry
// into the expired state, returning the number of sessions swept.
func (s *SessionService) ExpireOldSessions(ctx context.Context) (int64, error) {
	swept, err := s.store.ExpireSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.log.Info("Expired stale sessions", "count", swept)
	}
	return swept, nil
}

// failAggregation records a terminal failure and returns the causing error.
func (s *SessionService) failAggregation(ctx context.Context, sessionID string, cause error) error {
	_, err := s.store.UpdateSession(ctx, sessionID, []interfaces.SessionStatus{interfaces.SessionAggregating}, func(sess *interfaces.SigningSession) error {
		sess.Status = interfaces.SessionFailed
		sess.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil {
		s.log.Error("Failed to record aggregation failure", "sessionID", sessionID, "err", err)
	}
	return cause
}

func (s *SessionService) commitmentBytes(ctx context.Context, sessionID string) ([][]byte, error) {
	commitments, err := s.store.ListCommitments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(commitments))
	for _, c := range commitments {
		raw, err := hex.DecodeString(c.Value)
		if err != nil {
			return nil, interfaces.E(interfaces.ErrCodeValidation, "stored commitment is corrupt")
		}
		out = append(out, raw)
	}
	return out, nil
}
