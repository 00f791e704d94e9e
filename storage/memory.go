package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// MemoryStore is an in-memory Store implementation with the same uniqueness
// and conditional-update semantics as the Postgres store. It backs tests and
// single-instance development deployments.
type MemoryStore struct {
	mu sync.Mutex

	sessions    map[string]*interfaces.SigningSession
	commitments map[string]map[interfaces.GuardianID]*interfaces.NonceCommitment
	usedValues  map[string]struct{}
	partials    map[string]map[interfaces.GuardianID]*interfaces.PartialSignature
	requests    map[string]*interfaces.ReconstructionRequest
	schedules   map[string]*interfaces.RotationSchedule
	trails      map[string]*interfaces.RotationAuditTrail
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*interfaces.SigningSession),
		commitments: make(map[string]map[interfaces.GuardianID]*interfaces.NonceCommitment),
		usedValues:  make(map[string]struct{}),
		partials:    make(map[string]map[interfaces.GuardianID]*interfaces.PartialSignature),
		requests:    make(map[string]*interfaces.ReconstructionRequest),
		schedules:   make(map[string]*interfaces.RotationSchedule),
		trails:      make(map[string]*interfaces.RotationAuditTrail),
	}
}

func copySession(s *interfaces.SigningSession) *interfaces.SigningSession {
	out := *s
	out.Participants = append([]interfaces.GuardianID(nil), s.Participants...)
	return &out
}

func copyRequest(r *interfaces.ReconstructionRequest) *interfaces.ReconstructionRequest {
	out := *r
	out.RequiredGuardians = append([]interfaces.GuardianID(nil), r.RequiredGuardians...)
	return &out
}

func copySchedule(s *interfaces.RotationSchedule) *interfaces.RotationSchedule {
	out := *s
	return &out
}

func copyTrail(t *interfaces.RotationAuditTrail) *interfaces.RotationAuditTrail {
	out := *t
	out.Entries = append([]interfaces.AuditEntry(nil), t.Entries...)
	return &out
}

// CreateSession persists a new session.
func (m *MemoryStore) CreateSession(ctx context.Context, session *interfaces.SigningSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return interfaces.E(interfaces.ErrCodeValidation, "session %s already exists", session.ID)
	}
	m.sessions[session.ID] = copySession(session)
	return nil
}

// GetSession loads a session by ID.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*interfaces.SigningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "session %s not found", id)
	}
	return copySession(session), nil
}

// UpdateSession applies a mutation under a status guard.
func (m *MemoryStore) UpdateSession(ctx context.Context, id string, from []interfaces.SessionStatus, apply func(*interfaces.SigningSession) error) (*interfaces.SigningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "session %s not found", id)
	}

	if !sessionStatusIn(session.Status, from) {
		return nil, interfaces.E(interfaces.ErrCodeState, "session %s status %s does not permit this transition", id, session.Status)
	}

	updated := copySession(session)
	if err := apply(updated); err != nil {
		return nil, err
	}
	m.sessions[id] = updated
	return copySession(updated), nil
}

// ExpireSessions sweeps non-terminal sessions past their expiry.
func (m *MemoryStore) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept int64
	for _, session := range m.sessions {
		if !session.Status.Terminal() && now.After(session.ExpiresAt) {
			session.Status = interfaces.SessionExpired
			swept++
		}
	}
	return swept, nil
}

// ListSessionsSince returns sessions created at or after since, newest first.
func (m *MemoryStore) ListSessionsSince(ctx context.Context, since time.Time, limit int) ([]*interfaces.SigningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*interfaces.SigningSession
	for _, session := range m.sessions {
		if !session.CreatedAt.Before(since) {
			out = append(out, copySession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountSessionsByStatus counts sessions per status created at or after since.
func (m *MemoryStore) CountSessionsByStatus(ctx context.Context, since time.Time) (map[interfaces.SessionStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[interfaces.SessionStatus]int64)
	for _, session := range m.sessions {
		if !session.CreatedAt.Before(since) {
			counts[session.Status]++
		}
	}
	return counts, nil
}

// DeleteTerminalSessionsBefore reclaims storage for old terminal sessions.
func (m *MemoryStore) DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, session := range m.sessions {
		if session.Status.Terminal() && session.CreatedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.commitments, id)
			delete(m.partials, id)
			removed++
		}
	}
	return removed, nil
}

// CreateCommitment persists a commitment, enforcing global value uniqueness
// and one commitment per participant per session.
func (m *MemoryStore) CreateCommitment(ctx context.Context, commitment *interfaces.NonceCommitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, used := m.usedValues[commitment.Value]; used {
		return interfaces.E(interfaces.ErrCodeReplay, "commitment value was already used")
	}

	perSession, ok := m.commitments[commitment.SessionID]
	if !ok {
		perSession = make(map[interfaces.GuardianID]*interfaces.NonceCommitment)
		m.commitments[commitment.SessionID] = perSession
	}
	if _, exists := perSession[commitment.ParticipantID]; exists {
		return interfaces.E(interfaces.ErrCodeReplay, "participant already committed for this session")
	}

	saved := *commitment
	perSession[commitment.ParticipantID] = &saved
	m.usedValues[commitment.Value] = struct{}{}
	return nil
}

// GetCommitment loads a participant's commitment for a session.
func (m *MemoryStore) GetCommitment(ctx context.Context, sessionID string, participant interfaces.GuardianID) (*interfaces.NonceCommitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	commitment, ok := m.commitments[sessionID][participant]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "no commitment for participant in session %s", sessionID)
	}
	saved := *commitment
	return &saved, nil
}

// ListCommitments returns all commitments for a session.
func (m *MemoryStore) ListCommitments(ctx context.Context, sessionID string) ([]*interfaces.NonceCommitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*interfaces.NonceCommitment
	for _, commitment := range m.commitments[sessionID] {
		saved := *commitment
		out = append(out, &saved)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountCommitments counts distinct commitments for a session.
func (m *MemoryStore) CountCommitments(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commitments[sessionID]), nil
}

// UseCommitment flips a commitment from unused to used atomically.
func (m *MemoryStore) UseCommitment(ctx context.Context, sessionID string, participant interfaces.GuardianID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	commitment, ok := m.commitments[sessionID][participant]
	if !ok {
		return interfaces.E(interfaces.ErrCodeNotFound, "no commitment for participant in session %s", sessionID)
	}
	if commitment.Used {
		return interfaces.E(interfaces.ErrCodeState, "commitment already funded a partial signature")
	}

	commitment.Used = true
	commitment.UsedAt = &at
	return nil
}

// CreatePartial persists a partial signature, one per participant per session.
func (m *MemoryStore) CreatePartial(ctx context.Context, partial *interfaces.PartialSignature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	perSession, ok := m.partials[partial.SessionID]
	if !ok {
		perSession = make(map[interfaces.GuardianID]*interfaces.PartialSignature)
		m.partials[partial.SessionID] = perSession
	}
	if _, exists := perSession[partial.ParticipantID]; exists {
		return interfaces.E(interfaces.ErrCodeReplay, "participant already submitted a partial signature")
	}

	saved := *partial
	perSession[partial.ParticipantID] = &saved
	return nil
}

// ListPartials returns all partial signatures for a session.
func (m *MemoryStore) ListPartials(ctx context.Context, sessionID string) ([]*interfaces.PartialSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*interfaces.PartialSignature
	for _, partial := range m.partials[sessionID] {
		saved := *partial
		out = append(out, &saved)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateRequest persists a reconstruction request.
func (m *MemoryStore) CreateRequest(ctx context.Context, request *interfaces.ReconstructionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[request.ID]; exists {
		return interfaces.E(interfaces.ErrCodeValidation, "request %s already exists", request.ID)
	}
	m.requests[request.ID] = copyRequest(request)
	return nil
}

// GetRequest loads a request by ID.
func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*interfaces.ReconstructionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[id]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "request %s not found", id)
	}
	return copyRequest(request), nil
}

// UpdateRequest applies a mutation under a status guard.
func (m *MemoryStore) UpdateRequest(ctx context.Context, id string, from []interfaces.RequestStatus, apply func(*interfaces.ReconstructionRequest) error) (*interfaces.ReconstructionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[id]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "request %s not found", id)
	}

	if !requestStatusIn(request.Status, from) {
		return nil, interfaces.E(interfaces.ErrCodeState, "request %s status %s does not permit this transition", id, request.Status)
	}

	updated := copyRequest(request)
	if err := apply(updated); err != nil {
		return nil, err
	}
	m.requests[id] = updated
	return copyRequest(updated), nil
}

// ExpireRequests sweeps pending requests past their expiry.
func (m *MemoryStore) ExpireRequests(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept int64
	for _, request := range m.requests {
		if request.Status == interfaces.RequestPending && now.After(request.ExpiresAt) {
			request.Status = interfaces.RequestExpired
			swept++
		}
	}
	return swept, nil
}

// ListRequestsSince returns requests created at or after since, newest first.
func (m *MemoryStore) ListRequestsSince(ctx context.Context, since time.Time, limit int) ([]*interfaces.ReconstructionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*interfaces.ReconstructionRequest
	for _, request := range m.requests {
		if !request.CreatedAt.Before(since) {
			out = append(out, copyRequest(request))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountRequestsByStatus counts requests per status created at or after since.
func (m *MemoryStore) CountRequestsByStatus(ctx context.Context, since time.Time) (map[interfaces.RequestStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[interfaces.RequestStatus]int64)
	for _, request := range m.requests {
		if !request.CreatedAt.Before(since) {
			counts[request.Status]++
		}
	}
	return counts, nil
}

// DeleteTerminalRequestsBefore reclaims storage for old terminal requests.
func (m *MemoryStore) DeleteTerminalRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, request := range m.requests {
		if request.Status.Terminal() && request.CreatedAt.Before(cutoff) {
			delete(m.requests, id)
			removed++
		}
	}
	return removed, nil
}

// CreateSchedule persists a rotation schedule.
func (m *MemoryStore) CreateSchedule(ctx context.Context, schedule *interfaces.RotationSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.schedules {
		if existing.UserID == schedule.UserID {
			return interfaces.E(interfaces.ErrCodeValidation, "user already has a rotation schedule")
		}
	}
	m.schedules[schedule.ID] = copySchedule(schedule)
	return nil
}

// GetSchedule loads a schedule by ID.
func (m *MemoryStore) GetSchedule(ctx context.Context, id string) (*interfaces.RotationSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	schedule, ok := m.schedules[id]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "schedule %s not found", id)
	}
	return copySchedule(schedule), nil
}

// GetScheduleByUser loads a user's schedule.
func (m *MemoryStore) GetScheduleByUser(ctx context.Context, userID string) (*interfaces.RotationSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, schedule := range m.schedules {
		if schedule.UserID == userID {
			return copySchedule(schedule), nil
		}
	}
	return nil, interfaces.E(interfaces.ErrCodeNotFound, "no schedule for user")
}

// UpdateSchedule saves schedule changes.
func (m *MemoryStore) UpdateSchedule(ctx context.Context, schedule *interfaces.RotationSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[schedule.ID]; !ok {
		return interfaces.E(interfaces.ErrCodeNotFound, "schedule %s not found", schedule.ID)
	}
	m.schedules[schedule.ID] = copySchedule(schedule)
	return nil
}

// ListDueSchedules returns enabled schedules whose due date has passed.
func (m *MemoryStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*interfaces.RotationSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*interfaces.RotationSchedule
	for _, schedule := range m.schedules {
		if schedule.Enabled && !now.Before(schedule.NextRotationAt) {
			out = append(out, copySchedule(schedule))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRotationAt.Before(out[j].NextRotationAt) })
	return out, nil
}

// CreateAuditTrail persists a new rotation trail.
func (m *MemoryStore) CreateAuditTrail(ctx context.Context, trail *interfaces.RotationAuditTrail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.trails[trail.RotationID]; exists {
		return interfaces.E(interfaces.ErrCodeValidation, "trail %s already exists", trail.RotationID)
	}
	m.trails[trail.RotationID] = copyTrail(trail)
	return nil
}

// AppendAuditEntry appends an entry to a trail.
func (m *MemoryStore) AppendAuditEntry(ctx context.Context, rotationID string, entry interfaces.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trail, ok := m.trails[rotationID]
	if !ok {
		return interfaces.E(interfaces.ErrCodeNotFound, "trail %s not found", rotationID)
	}
	trail.Entries = append(trail.Entries, entry)
	return nil
}

// SetAuditStatus updates the derived trail status.
func (m *MemoryStore) SetAuditStatus(ctx context.Context, rotationID string, status interfaces.TrailStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trail, ok := m.trails[rotationID]
	if !ok {
		return interfaces.E(interfaces.ErrCodeNotFound, "trail %s not found", rotationID)
	}
	trail.Status = status
	trail.CompletedAt = completedAt
	return nil
}

// GetAuditTrail loads a trail with its entries.
func (m *MemoryStore) GetAuditTrail(ctx context.Context, rotationID string) (*interfaces.RotationAuditTrail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trail, ok := m.trails[rotationID]
	if !ok {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "trail %s not found", rotationID)
	}
	return copyTrail(trail), nil
}

func sessionStatusIn(status interfaces.SessionStatus, set []interfaces.SessionStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func requestStatusIn(status interfaces.RequestStatus, set []interfaces.RequestStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
