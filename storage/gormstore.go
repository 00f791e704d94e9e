package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// GormStore is the Postgres-backed Store implementation. Uniqueness invariants
// (global commitment values, one commitment and one partial per participant
// per session) are enforced by database constraints, and guarded status
// transitions run in row-locked transactions so concurrent coordinators
// cannot race a session past its state machine.
type GormStore struct {
	db *gorm.DB
}

type sessionModel struct {
	ID             string `gorm:"primaryKey"`
	FamilyID       string
	MessageDigest  string
	Participants   []interfaces.GuardianID `gorm:"serializer:json"`
	Threshold      int
	Status         string    `gorm:"index"`
	CreatedAt      time.Time `gorm:"index"`
	ExpiresAt      time.Time `gorm:"index"`
	Round1Started  *time.Time
	Round2Started  *time.Time
	FinalSignature string
	ErrorMessage   string
}

func (sessionModel) TableName() string { return "signing_sessions" }

type commitmentModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SessionID     string `gorm:"uniqueIndex:idx_commitment_session_participant;index"`
	ParticipantID string `gorm:"uniqueIndex:idx_commitment_session_participant"`
	Value         string `gorm:"uniqueIndex"`
	Used          bool
	CreatedAt     time.Time
	UsedAt        *time.Time
}

func (commitmentModel) TableName() string { return "nonce_commitments" }

type partialModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SessionID     string `gorm:"uniqueIndex:idx_partial_session_participant;index"`
	ParticipantID string `gorm:"uniqueIndex:idx_partial_session_participant"`
	Value         string
	CreatedAt     time.Time
}

func (partialModel) TableName() string { return "partial_signatures" }

type requestModel struct {
	ID                string `gorm:"primaryKey"`
	FamilyID          string
	RequiredGuardians []interfaces.GuardianID `gorm:"serializer:json"`
	Threshold         int
	Status            string    `gorm:"index"`
	CreatedAt         time.Time `gorm:"index"`
	ExpiresAt         time.Time `gorm:"index"`
	FinalEventID      string
	ErrorMessage      string
}

func (requestModel) TableName() string { return "reconstruction_requests" }

type scheduleModel struct {
	ID                   string `gorm:"primaryKey"`
	UserID               string `gorm:"uniqueIndex"`
	RotationIntervalDays int
	LastRotationAt       *time.Time
	NextRotationAt       time.Time `gorm:"index"`
	Enabled              bool
	RotationCount        int
	AverageRotationNanos int64
	LastStatus           string
}

func (scheduleModel) TableName() string { return "rotation_schedules" }

type trailModel struct {
	RotationID  string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (trailModel) TableName() string { return "rotation_audit_trails" }

type auditEntryModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RotationID string `gorm:"index"`
	EventType  string
	Timestamp  time.Time
	Actor      string
	Details    string
}

func (auditEntryModel) TableName() string { return "rotation_audit_entries" }

// NewGormStore connects to Postgres and migrates the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not connect to postgres")
	}

	err = db.AutoMigrate(
		&sessionModel{},
		&commitmentModel{},
		&partialModel{},
		&requestModel{},
		&scheduleModel{},
		&trailModel{},
		&auditEntryModel{},
	)
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "schema migration failed")
	}

	return &GormStore{db: db}, nil
}

func sessionToModel(s *interfaces.SigningSession) *sessionModel {
	return &sessionModel{
		ID:             s.ID,
		FamilyID:       s.FamilyID.String(),
		MessageDigest:  s.MessageDigest.String(),
		Participants:   s.Participants,
		Threshold:      s.Threshold,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		Round1Started:  s.Round1Started,
		Round2Started:  s.Round2Started,
		FinalSignature: s.FinalSignature,
		ErrorMessage:   s.ErrorMessage,
	}
}

func sessionFromModel(m *sessionModel) (*interfaces.SigningSession, error) {
	digest, err := interfaces.NewMessageDigestFromHex(m.MessageDigest)
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "stored session %s has a corrupt digest", m.ID)
	}
	return &interfaces.SigningSession{
		ID:             m.ID,
		FamilyID:       interfaces.FamilyID(m.FamilyID),
		MessageDigest:  digest,
		Participants:   m.Participants,
		Threshold:      m.Threshold,
		Status:         interfaces.SessionStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		Round1Started:  m.Round1Started,
		Round2Started:  m.Round2Started,
		FinalSignature: m.FinalSignature,
		ErrorMessage:   m.ErrorMessage,
	}, nil
}

func requestToModel(r *interfaces.ReconstructionRequest) *requestModel {
	return &requestModel{
		ID:                r.ID,
		FamilyID:          r.FamilyID.String(),
		RequiredGuardians: r.RequiredGuardians,
		Threshold:         r.Threshold,
		Status:            string(r.Status),
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		FinalEventID:      r.FinalEventID,
		ErrorMessage:      r.ErrorMessage,
	}
}

func requestFromModel(m *requestModel) *interfaces.ReconstructionRequest {
	return &interfaces.ReconstructionRequest{
		ID:                m.ID,
		FamilyID:          interfaces.FamilyID(m.FamilyID),
		RequiredGuardians: m.RequiredGuardians,
		Threshold:         m.Threshold,
		Status:            interfaces.RequestStatus(m.Status),
		CreatedAt:         m.CreatedAt,
		ExpiresAt:         m.ExpiresAt,
		FinalEventID:      m.FinalEventID,
		ErrorMessage:      m.ErrorMessage,
	}
}

func scheduleToModel(s *interfaces.RotationSchedule) *scheduleModel {
	return &scheduleModel{
		ID:                   s.ID,
		UserID:               s.UserID,
		RotationIntervalDays: s.RotationIntervalDays,
		LastRotationAt:       s.LastRotationAt,
		NextRotationAt:       s.NextRotationAt,
		Enabled:              s.Enabled,
		RotationCount:        s.RotationCount,
		AverageRotationNanos: int64(s.AverageRotationTime),
		LastStatus:           s.LastStatus,
	}
}

func scheduleFromModel(m *scheduleModel) *interfaces.RotationSchedule {
	return &interfaces.RotationSchedule{
		ID:                   m.ID,
		UserID:               m.UserID,
		RotationIntervalDays: m.RotationIntervalDays,
		LastRotationAt:       m.LastRotationAt,
		NextRotationAt:       m.NextRotationAt,
		Enabled:              m.Enabled,
		RotationCount:        m.RotationCount,
		AverageRotationTime:  time.Duration(m.AverageRotationNanos),
		LastStatus:           m.LastStatus,
	}
}

var terminalSessionStatuses = []string{
	string(interfaces.SessionCompleted),
	string(interfaces.SessionFailed),
	string(interfaces.SessionExpired),
}

var terminalRequestStatuses = []string{
	string(interfaces.RequestCompleted),
	string(interfaces.RequestFailed),
	string(interfaces.RequestExpired),
}

// CreateSession persists a new session.
func (g *GormStore) CreateSession(ctx context.Context, session *interfaces.SigningSession) error {
	err := g.db.WithContext(ctx).Create(sessionToModel(session)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return interfaces.E(interfaces.ErrCodeValidation, "session %s already exists", session.ID)
	}
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not create session")
	}
	return nil
}

// GetSession loads a session by ID.
func (g *GormStore) GetSession(ctx context.Context, id string) (*interfaces.SigningSession, error) {
	var model sessionModel
	err := g.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load session")
	}
	return sessionFromModel(&model)
}

// UpdateSession applies a mutation under a status guard, holding a row lock
// for the duration of the transaction.
func (g *GormStore) UpdateSession(ctx context.Context, id string, from []interfaces.SessionStatus, apply func(*interfaces.SigningSession) error) (*interfaces.SigningSession, error) {
	var updated *interfaces.SigningSession
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model sessionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return interfaces.E(interfaces.ErrCodeNotFound, "session %s not found", id)
		}
		if err != nil {
			return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not lock session")
		}

		session, err := sessionFromModel(&model)
		if err != nil {
			return err
		}
		if !sessionStatusIn(session.Status, from) {
			return interfaces.E(interfaces.ErrCodeState, "session %s status %s does not permit this transition", id, session.Status)
		}
		if err := apply(session); err != nil {
			return err
		}

		if err := tx.Save(sessionToModel(session)).Error; err != nil {
			return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not update session")
		}
		updated = session
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

// ExpireSessions marks in-flight sessions past their expiry as expired.
func (g *GormStore) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Model(&sessionModel{}).
		Where("status NOT IN ? AND expires_at < ?", terminalSessionStatuses, now).
		Update("status", string(interfaces.SessionExpired))
	if res.Error != nil {
		return 0, interfaces.WrapErr(interfaces.ErrCodePersistence, res.Error, "could not expire sessions")
	}
	return res.RowsAffected, nil
}

// ListSessionsSince returns sessions created at or after since, newest first.
func (g *GormStore) ListSessionsSince(ctx context.Context, since time.Time, limit int) ([]*interfaces.SigningSession, error) {
	var models []sessionModel
	q := g.db.WithContext(ctx).Where("created_at >= ?", since).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not list sessions")
	}

	out := make([]*interfaces.SigningSession, 0, len(models))
	for i := range models {
		session, err := sessionFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

// CountSessionsByStatus counts sessions per status created at or after since.
func (g *GormStore) CountSessionsByStatus(ctx context.Context, since time.Time) (map[interfaces.SessionStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := g.db.WithContext(ctx).Model(&sessionModel{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not count sessions")
	}

	counts := make(map[interfaces.SessionStatus]int64, len(rows))
	for _, row := range rows {
		counts[interfaces.SessionStatus(row.Status)] = row.Total
	}
	return counts, nil
}

// DeleteTerminalSessionsBefore reclaims storage for old terminal sessions and
// their commitments and partials.
func (g *GormStore) DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&sessionModel{}).
			Where("status IN ? AND created_at < ?", terminalSessionStatuses, cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Delete(&commitmentModel{}, "session_id IN ?", ids).Error; err != nil {
			return err
		}
		if err := tx.Delete(&partialModel{}, "session_id IN ?", ids).Error; err != nil {
			return err
		}
		res := tx.Delete(&sessionModel{}, "id IN ?", ids)
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if txErr != nil {
		return 0, interfaces.WrapErr(interfaces.ErrCodePersistence, txErr, "could not prune sessions")
	}
	return removed, nil
}

// CreateCommitment persists a commitment. The unique index on the value column
// rejects any value seen before, in this session or any other.
func (g *GormStore) CreateCommitment(ctx context.Context, commitment *interfaces.NonceCommitment) error {
	model := &commitmentModel{
		SessionID:     commitment.SessionID,
		ParticipantID: commitment.ParticipantID.String(),
		Value:         commitment.Value,
		Used:          commitment.Used,
		CreatedAt:     commitment.CreatedAt,
		UsedAt:        commitment.UsedAt,
	}
	err := g.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return interfaces.E(interfaces.ErrCodeReplay, "commitment value or participant slot was already used")
	}
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not create commitment")
	}
	return nil
}

// GetCommitment loads a participant's commitment for a session.
func (g *GormStore) GetCommitment(ctx context.Context, sessionID string, participant interfaces.GuardianID) (*interfaces.NonceCommitment, error) {
	var model commitmentModel
	err := g.db.WithContext(ctx).
		First(&model, "session_id = ? AND participant_id = ?", sessionID, participant.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "no commitment for participant in session %s", sessionID)
	}
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load commitment")
	}
	return commitmentFromModel(&model), nil
}

func commitmentFromModel(m *commitmentModel) *interfaces.NonceCommitment {
	return &interfaces.NonceCommitment{
		SessionID:     m.SessionID,
		ParticipantID: interfaces.GuardianID(m.ParticipantID),
		Value:         m.Value,
		Used:          m.Used,
		CreatedAt:     m.CreatedAt,
		UsedAt:        m.UsedAt,
	}
}

// ListCommitments returns all commitments for a session in arrival order.
func (g *GormStore) ListCommitments(ctx context.Context, sessionID string) ([]*interfaces.NonceCommitment, error) {
	var models []commitmentModel
	err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not list commitments")
	}

	out := make([]*interfaces.NonceCommitment, 0, len(models))
	for i := range models {
		out = append(out, commitmentFromModel(&models[i]))
	}
	return out, nil
}

// CountCommitments counts distinct commitments for a session.
func (g *GormStore) CountCommitments(ctx context.Context, sessionID string) (int, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&commitmentModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not count commitments")
	}
	return int(count), nil
}

// UseCommitment flips a commitment from unused to used. The conditional update
// makes the flip atomic even across concurrent submissions.
func (g *GormStore) UseCommitment(ctx context.Context, sessionID string, participant interfaces.GuardianID, at time.Time) error {
	res := g.db.WithContext(ctx).Model(&commitmentModel{}).
		Where("session_id = ? AND participant_id = ? AND used = false", sessionID, participant.String()).
		Updates(map[string]any{"used": true, "used_at": at})
	if res.Error != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, res.Error, "could not mark commitment used")
	}
	if res.RowsAffected == 0 {
		if _, err := g.GetCommitment(ctx, sessionID, participant); err != nil {
			return err
		}
		return interfaces.E(interfaces.ErrCodeState, "commitment already funded a partial signature")
	}
	return nil
}

// CreatePartial persists a partial signature, one per participant per session.
func (g *GormStore) CreatePartial(ctx context.Context, partial *interfaces.PartialSignature) error {
	model := &partialModel{
		SessionID:     partial.SessionID,
		ParticipantID: partial.ParticipantID.String(),
		Value:         partial.Value,
		CreatedAt:     partial.CreatedAt,
	}
	err := g.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return interfaces.E(interfaces.ErrCodeReplay, "participant already submitted a partial signature")
	}
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not create partial signature")
	}
	return nil
}

// ListPartials returns all partial signatures for a session in arrival order.
func (g *GormStore) ListPartials(ctx context.Context, sessionID string) ([]*interfaces.PartialSignature, error) {
	var models []partialModel
	err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not list partial signatures")
	}

	out := make([]*interfaces.PartialSignature, 0, len(models))
	for i := range models {
		out = append(out, &interfaces.PartialSignature{
			SessionID:     models[i].SessionID,
			ParticipantID: interfaces.GuardianID(models[i].ParticipantID),
			Value:         models[i].Value,
			CreatedAt:     models[i].CreatedAt,
		})
	}
	return out, nil
}

// CreateRequest persists a reconstruction request.
func (g *GormStore) CreateRequest(ctx context.Context, request *interfaces.ReconstructionRequest) error {
	err := g.db.WithContext(ctx).Create(requestToModel(request)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return interfaces.E(interfaces.ErrCodeValidation, "request %s already exists", request.ID)
	}
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not create request")
	}
	return nil
}

// GetRequest loads a request by ID.
func (g *GormStore) GetRequest(ctx context.Context, id string) (*interfaces.ReconstructionRequest, error) {
	var model requestModel
	err := g.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "request %s not found", id)
	}
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load request")
	}
	return requestFromModel(&model), nil
}

// UpdateRequest applies a mutation under a status guard.
func (g *GormStore) UpdateRequest(ctx context.Context, id string, from []interfaces.RequestStatus, apply func(*interfaces.ReconstructionRequest) error) (*interfaces.ReconstructionRequest, error) {
	var updated *interfaces.ReconstructionRequest
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model requestModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return interfaces.E(interfaces.ErrCodeNotFound, "request %s not found", id)
		}
		if err != nil {
			return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not lock request")
		}

		request := requestFromModel(&model)
		if !requestStatusIn(request.Status, from) {
			return interfaces.E(interfaces.ErrCodeState, "request %s status %s does not permit this transition", id, request.Status)
		}
		if err := apply(request); err != nil {
			return err
		}

		if err := tx.Save(requestToModel(request)).Error; err != nil {
			return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not update request")
		}
		updated = request
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

// ExpireRequests marks pending requests past their expiry as expired.
func (g *GormStore) ExpireRequests(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Model(&requestModel{}).
		Where("status = ? AND expires_at < ?", string(interfaces.RequestPending), now).
		Update("status", string(interfaces.RequestExpired))
	if res.Error != nil {
		return 0, interfaces.WrapErr(interfaces.ErrCodePersistence, res.Error, "could not expire requests")
	}
	return res.RowsAffected, nil
}

// ListRequestsSince returns requests created at or after since, newest first.
func (g *GormStore) ListRequestsSince(ctx context.Context, since time.Time, limit int) ([]*interfaces.ReconstructionRequest, error) {
	var models []requestModel
	q := g.db.WithContext(ctx).Where("created_at >= ?", since).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not list requests")
	}

	out := make([]*interfaces.ReconstructionRequest, 0, len(models))
	for i := range models {
		out = append(out, requestFromModel(&models[i]))
	}
	return out, nil
}

// CountRequestsByStatus counts requests per status created at or after since.
func (g *GormStore) CountRequestsByStatus(ctx context.Context, since time.Time) (map[interfaces.RequestStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := g.db.WithContext(ctx).Model(&requestModel{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not count requests")
	}

	counts := make(map[interfaces.RequestStatus]int64, len(rows))
	for _, row := range rows {
		counts[interfaces.RequestStatus(row.Status)] = row.Total
	}
	return counts, nil
}

// DeleteTerminalRequestsBefore reclaims storage for old terminal requests.
func (g *GormStore) DeleteTerminalRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := g.db.WithContext(ctx).
		Delete(&requestModel{}, "status IN ? AND created_at < ?", terminalRequestStatuses, cutoff)
	if res.Error != nil {
		return 0, interfaces.WrapErr(interfaces.ErrCodePersistence, res.Error, "could not prune requests")
	}
	return res.RowsAffected, nil
}

// CreateSchedule persists a rotation schedule, one per user.
func (g *GormStore) CreateSchedule(ctx context.Context, schedule *interfaces.RotationSchedule) error {
	err := g.db.WithContext(ctx).Create(scheduleToModel(schedule)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return interfaces.E(interfaces.ErrCodeValidation, "user already has a rotation schedule")
	}
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not create schedule")
	}
	return nil
}

// GetSchedule loads a schedule by ID.
func (g *GormStore) GetSchedule(ctx context.Context, id string) (*interfaces.RotationSchedule, error) {
	var model scheduleModel
	err := g.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "schedule %s not found", id)
	}
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load schedule")
	}
	return scheduleFromModel(&model), nil
}

// GetScheduleByUser loads a user's schedule.
func (g *GormStore) GetScheduleByUser(ctx context.Context, userID string) (*interfaces.RotationSchedule, error) {
	var model scheduleModel
	err := g.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "no schedule for user")
	}
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load schedule")
	}
	return scheduleFromModel(&model), nil
}

// UpdateSchedule saves schedule changes.
func (g *GormStore) UpdateSchedule(ctx context.Context, schedule *interfaces.RotationSchedule) error {
	res := g.db.WithContext(ctx).
		Model(&scheduleModel{}).
		Where("id = ?", schedule.ID).
		Select("*").
		Updates(scheduleToModel(schedule))
	if res.Error != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, res.Error, "could not update schedule")
	}
	if res.RowsAffected == 0 {
		return interfaces.E(interfaces.ErrCodeNotFound, "schedule %s not found", schedule.ID)
	}
	return nil
}

// ListDueSchedules returns enabled schedules whose due date has passed.
func (g *GormStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*interfaces.RotationSchedule, error) {
	var models []scheduleModel
	err := g.db.WithContext(ctx).
		Where("enabled = true AND next_rotation_at <= ?", now).
		Order("next_rotation_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not list due schedules")
	}

	out := make([]*interfaces.RotationSchedule, 0, len(models))
	for i := range models {
		out = append(out, scheduleFromModel(&models[i]))
	}
	return out, nil
}

// CreateAuditTrail persists a new rotation trail and any seed entries.
func (g *GormStore) CreateAuditTrail(ctx context.Context, trail *interfaces.RotationAuditTrail) error {
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := &trailModel{
			RotationID:  trail.RotationID,
			UserID:      trail.UserID,
			Status:      string(trail.Status),
			CreatedAt:   trail.CreatedAt,
			CompletedAt: trail.CompletedAt,
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		for _, entry := range trail.Entries {
			entryModel := &auditEntryModel{
				RotationID: trail.RotationID,
				EventType:  entry.EventType,
				Timestamp:  entry.Timestamp,
				Actor:      entry.Actor,
				Details:    entry.Details,
			}
			if err := tx.Create(entryModel).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(txErr, gorm.ErrDuplicatedKey) {
		return interfaces.E(interfaces.ErrCodeValidation, "trail %s already exists", trail.RotationID)
	}
	if txErr != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, txErr, "could not create audit trail")
	}
	return nil
}

// AppendAuditEntry appends an entry to a trail. Entries are insert-only.
func (g *GormStore) AppendAuditEntry(ctx context.Context, rotationID string, entry interfaces.AuditEntry) error {
	var count int64
	err := g.db.WithContext(ctx).Model(&trailModel{}).
		Where("rotation_id = ?", rotationID).
		Count(&count).Error
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not check audit trail")
	}
	if count == 0 {
		return interfaces.E(interfaces.ErrCodeNotFound, "trail %s not found", rotationID)
	}

	model := &auditEntryModel{
		RotationID: rotationID,
		EventType:  entry.EventType,
		Timestamp:  entry.Timestamp,
		Actor:      entry.Actor,
		Details:    entry.Details,
	}
	if err := g.db.WithContext(ctx).Create(model).Error; err != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not append audit entry")
	}
	return nil
}

// SetAuditStatus updates the derived trail status.
func (g *GormStore) SetAuditStatus(ctx context.Context, rotationID string, status interfaces.TrailStatus, completedAt *time.Time) error {
	res := g.db.WithContext(ctx).Model(&trailModel{}).
		Where("rotation_id = ?", rotationID).
		Updates(map[string]any{"status": string(status), "completed_at": completedAt})
	if res.Error != nil {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, res.Error, "could not update audit trail status")
	}
	if res.RowsAffected == 0 {
		return interfaces.E(interfaces.ErrCodeNotFound, "trail %s not found", rotationID)
	}
	return nil
}

// GetAuditTrail loads a trail with its entries in append order.
func (g *GormStore) GetAuditTrail(ctx context.Context, rotationID string) (*interfaces.RotationAuditTrail, error) {
	var model trailModel
	err := g.db.WithContext(ctx).First(&model, "rotation_id = ?", rotationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "trail %s not found", rotationID)
	}
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load audit trail")
	}

	var entryModels []auditEntryModel
	err = g.db.WithContext(ctx).
		Where("rotation_id = ?", rotationID).
		Order("id ASC").
		Find(&entryModels).Error
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodePersistence, err, "could not load audit entries")
	}

	trail := &interfaces.RotationAuditTrail{
		RotationID:  model.RotationID,
		UserID:      model.UserID,
		Status:      interfaces.TrailStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		CompletedAt: model.CompletedAt,
	}
	for _, em := range entryModels {
		trail.Entries = append(trail.Entries, interfaces.AuditEntry{
			EventType: em.EventType,
			Timestamp: em.Timestamp,
			Actor:     em.Actor,
			Details:   em.Details,
		})
	}
	return trail, nil
}
