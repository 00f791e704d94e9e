// Package guardian exposes the signing coordinator over HTTP: session and
// reconstruction lifecycles, strategy recommendations, rotation schedules and
// operational health.
package guardian

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/monitor"
	"github.com/OV1-Kenobi/satnam-pub-sub020/policy"
	"github.com/OV1-Kenobi/satnam-pub-sub020/rotation"
	"github.com/OV1-Kenobi/satnam-pub-sub020/signing"
)

// Handler processes HTTP requests for the guardian signing coordinator.
type Handler struct {
	sessions        *signing.SessionService
	reconstructions *signing.ReconstructionService
	scheduler       *rotation.Scheduler
	auditor         *rotation.Auditor
	monitor         *monitor.Monitor
	log             *slog.Logger
}

// NewHandler creates a new HTTP request handler with the given services.
func NewHandler(sessions *signing.SessionService, reconstructions *signing.ReconstructionService, scheduler *rotation.Scheduler, auditor *rotation.Auditor, mon *monitor.Monitor, log *slog.Logger) *Handler {
	return &Handler{
		sessions:        sessions,
		reconstructions: reconstructions,
		scheduler:       scheduler,
		auditor:         auditor,
		monitor:         mon,
		log:             log,
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/sessions", h.HandleCreateSession)
	r.Get("/api/v1/sessions/{session_id}", h.HandleGetSession)
	r.Post("/api/v1/sessions/{session_id}/commitments", h.HandleSubmitCommitment)
	r.Post("/api/v1/sessions/{session_id}/partials", h.HandleSubmitPartial)
	r.Post("/api/v1/sessions/{session_id}/aggregate", h.HandleAggregate)
	r.Post("/api/v1/sessions/{session_id}/fail", h.HandleFailSession)

	r.Post("/api/v1/requests", h.HandleCreateRequest)
	r.Get("/api/v1/requests/{request_id}", h.HandleGetRequest)
	r.Post("/api/v1/requests/{request_id}/shares", h.HandleSubmitShare)
	r.Post("/api/v1/requests/{request_id}/fail", h.HandleFailRequest)

	r.Get("/api/v1/policy/recommendation", h.HandleRecommendation)

	r.Post("/api/v1/schedules", h.HandleCreateSchedule)
	r.Get("/api/v1/schedules/{schedule_id}", h.HandleGetSchedule)
	r.Get("/api/v1/users/{user_id}/schedule", h.HandleGetUserSchedule)
	r.Put("/api/v1/schedules/{schedule_id}/interval", h.HandleUpdateInterval)
	r.Put("/api/v1/schedules/{schedule_id}/enabled", h.HandleSetEnabled)

	r.Get("/api/v1/rotations/{rotation_id}/report", h.HandleRotationReport)

	r.Get("/api/v1/health/metrics", h.HandleHealthMetrics)
	r.Get("/api/v1/health/activity", h.HandleRecentActivity)
}

// statusForError maps classified service errors to HTTP status codes.
func statusForError(err error) int {
	switch interfaces.CodeOf(err) {
	case interfaces.ErrCodeValidation:
		return http.StatusBadRequest
	case interfaces.ErrCodeNotFound:
		return http.StatusNotFound
	case interfaces.ErrCodeState, interfaces.ErrCodeReplay:
		return http.StatusConflict
	case interfaces.ErrCodeTimeout:
		return http.StatusGone
	case interfaces.ErrCodeAggregation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForError(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(interfaces.CodeOf(err)),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// SessionResponse is the wire form of a signing session. Timestamps are Unix
// seconds, following the event convention.
type SessionResponse struct {
	ID             string   `json:"id"`
	FamilyID       string   `json:"family_id"`
	MessageDigest  string   `json:"message_digest"`
	Participants   []string `json:"participants"`
	Threshold      int      `json:"threshold"`
	Status         string   `json:"status"`
	CreatedAt      int64    `json:"created_at"`
	ExpiresAt      int64    `json:"expires_at"`
	FinalSignature string   `json:"final_signature,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
}

func sessionResponse(s *interfaces.SigningSession) SessionResponse {
	participants := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, string(p))
	}
	return SessionResponse{
		ID:             s.ID,
		FamilyID:       string(s.FamilyID),
		MessageDigest:  s.MessageDigest.String(),
		Participants:   participants,
		Threshold:      s.Threshold,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt.Unix(),
		ExpiresAt:      s.ExpiresAt.Unix(),
		FinalSignature: s.FinalSignature,
		ErrorMessage:   s.ErrorMessage,
	}
}

// RequestResponse is the wire form of a reconstruction request.
type RequestResponse struct {
	ID           string   `json:"id"`
	FamilyID     string   `json:"family_id"`
	Guardians    []string `json:"guardians"`
	Threshold    int      `json:"threshold"`
	Status       string   `json:"status"`
	CreatedAt    int64    `json:"created_at"`
	ExpiresAt    int64    `json:"expires_at"`
	FinalEventID string   `json:"final_event_id,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

func requestResponse(r *interfaces.ReconstructionRequest) RequestResponse {
	guardians := make([]string, 0, len(r.RequiredGuardians))
	for _, g := range r.RequiredGuardians {
		guardians = append(guardians, string(g))
	}
	return RequestResponse{
		ID:           r.ID,
		FamilyID:     string(r.FamilyID),
		Guardians:    guardians,
		Threshold:    r.Threshold,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt.Unix(),
		ExpiresAt:    r.ExpiresAt.Unix(),
		FinalEventID: r.FinalEventID,
		ErrorMessage: r.ErrorMessage,
	}
}

// ScheduleResponse is the wire form of a rotation schedule.
type ScheduleResponse struct {
	ID                  string `json:"id"`
	UserID              string `json:"user_id"`
	IntervalDays        int    `json:"interval_days"`
	LastRotationAt      int64  `json:"last_rotation_at,omitempty"`
	NextRotationAt      int64  `json:"next_rotation_at"`
	Enabled             bool   `json:"enabled"`
	RotationCount       int    `json:"rotation_count"`
	AverageRotationSecs int64  `json:"average_rotation_seconds"`
	LastStatus          string `json:"last_status,omitempty"`
	Notification        string `json:"notification"`
}

func (h *Handler) scheduleResponse(s *interfaces.RotationSchedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:                  s.ID,
		UserID:              s.UserID,
		IntervalDays:        s.RotationIntervalDays,
		NextRotationAt:      s.NextRotationAt.Unix(),
		Enabled:             s.Enabled,
		RotationCount:       s.RotationCount,
		AverageRotationSecs: int64(s.AverageRotationTime.Seconds()),
		LastStatus:          s.LastStatus,
		Notification:        string(h.scheduler.NotificationType(s)),
	}
	if s.LastRotationAt != nil {
		resp.LastRotationAt = s.LastRotationAt.Unix()
	}
	return resp
}

// CreateSessionRequest starts a threshold signing session.
type CreateSessionRequest struct {
	FamilyID      string   `json:"family_id"`
	MessageDigest string   `json:"message_digest"`
	Participants  []string `json:"participants"`
	Threshold     int      `json:"threshold"`
	TTLSeconds    int64    `json:"ttl_seconds,omitempty"`
}

// HandleCreateSession starts a new threshold signing session.
//
// URL format: POST /api/v1/sessions
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	digest, err := interfaces.NewMessageDigestFromHex(req.MessageDigest)
	if err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "invalid message digest"))
		return
	}

	participants := make([]interfaces.GuardianID, 0, len(req.Participants))
	for _, p := range req.Participants {
		participants = append(participants, interfaces.GuardianID(p))
	}

	session, err := h.sessions.CreateSession(r.Context(), interfaces.FamilyID(req.FamilyID), digest,
		participants, req.Threshold, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sessionResponse(session))
}

// HandleGetSession returns the current state of a session.
//
// URL format: GET /api/v1/sessions/{session_id}
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// SubmitValueRequest carries a participant's hex-encoded protocol value, used
// for both nonce commitments and partial signatures.
type SubmitValueRequest struct {
	Participant string `json:"participant"`
	Value       string `json:"value"`
}

// HandleSubmitCommitment records a participant's round-1 nonce commitment.
//
// URL format: POST /api/v1/sessions/{session_id}/commitments
func (h *Handler) HandleSubmitCommitment(w http.ResponseWriter, r *http.Request) {
	var req SubmitValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	session, err := h.sessions.SubmitNonceCommitment(r.Context(), r.PathValue("session_id"),
		interfaces.GuardianID(req.Participant), req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleSubmitPartial records a participant's round-2 partial signature.
//
// URL format: POST /api/v1/sessions/{session_id}/partials
func (h *Handler) HandleSubmitPartial(w http.ResponseWriter, r *http.Request) {
	var req SubmitValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	session, err := h.sessions.SubmitPartialSignature(r.Context(), r.PathValue("session_id"),
		interfaces.GuardianID(req.Participant), req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleAggregate combines the collected partial signatures into the final
// signature.
//
// URL format: POST /api/v1/sessions/{session_id}/aggregate
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.AggregateSignatures(r.Context(), r.PathValue("session_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// FailRequestBody carries the reason for an explicit failure.
type FailRequestBody struct {
	Reason string `json:"reason"`
}

// HandleFailSession moves a session to the failed state.
//
// URL format: POST /api/v1/sessions/{session_id}/fail
func (h *Handler) HandleFailSession(w http.ResponseWriter, r *http.Request) {
	var req FailRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	if err := h.sessions.FailSession(r.Context(), r.PathValue("session_id"), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

// CreateReconstructionRequest starts a one-round reconstruction signing
// request. The event template is the unsigned Nostr event to publish once
// threshold shares arrive.
type CreateReconstructionRequest struct {
	FamilyID      string          `json:"family_id"`
	Guardians     []string        `json:"guardians"`
	Threshold     int             `json:"threshold"`
	EventTemplate json.RawMessage `json:"event_template"`
	TTLSeconds    int64           `json:"ttl_seconds,omitempty"`
}

// HandleCreateRequest starts a new reconstruction signing request.
//
// URL format: POST /api/v1/requests
func (h *Handler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateReconstructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	guardians := make([]interfaces.GuardianID, 0, len(req.Guardians))
	for _, g := range req.Guardians {
		guardians = append(guardians, interfaces.GuardianID(g))
	}

	request, err := h.reconstructions.CreateRequest(r.Context(), interfaces.FamilyID(req.FamilyID),
		guardians, req.Threshold, req.EventTemplate, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, requestResponse(request))
}

// HandleGetRequest returns the current state of a reconstruction request.
//
// URL format: GET /api/v1/requests/{request_id}
func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	request, err := h.reconstructions.GetRequest(r.Context(), r.PathValue("request_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestResponse(request))
}

// SubmitShareRequest carries one guardian's key share.
type SubmitShareRequest struct {
	Guardian string `json:"guardian"`
	Index    int    `json:"index"`
	Value    string `json:"value"`
}

// HandleSubmitShare records a guardian's share. Reaching the threshold
// completes the request: the key is reconstructed, the event signed and
// published, and the key material discarded.
//
// URL format: POST /api/v1/requests/{request_id}/shares
func (h *Handler) HandleSubmitShare(w http.ResponseWriter, r *http.Request) {
	var req SubmitShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	request, err := h.reconstructions.SubmitShare(r.Context(), r.PathValue("request_id"),
		interfaces.GuardianID(req.Guardian), req.Index, req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestResponse(request))
}

// HandleFailRequest moves a reconstruction request to the failed state.
//
// URL format: POST /api/v1/requests/{request_id}/fail
func (h *Handler) HandleFailRequest(w http.ResponseWriter, r *http.Request) {
	var req FailRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	if err := h.reconstructions.FailRequest(r.Context(), r.PathValue("request_id"), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

// RecommendationResponse explains the chosen signing strategy.
type RecommendationResponse struct {
	Method  string `json:"method"`
	UseCase string `json:"use_case"`
	Reason  string `json:"reason"`
	Latency string `json:"latency"`
}

// HandleRecommendation returns the strategy for a use case, honoring an
// optional explicit override.
//
// URL format: GET /api/v1/policy/recommendation?use_case=routine&override=
func (h *Handler) HandleRecommendation(w http.ResponseWriter, r *http.Request) {
	useCase := policy.UseCase(r.URL.Query().Get("use_case"))
	override := policy.Method(r.URL.Query().Get("override"))

	method, err := policy.SelectMethod(useCase, override)
	if err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "invalid method override"))
		return
	}

	rec := policy.GetMethodRecommendation(useCase)
	if override != "" {
		rec.Method = method
		rec.Reason = fmt.Sprintf("explicit override to %s", method)
		rec.Latency = policy.LatencyMultiRound
		if method == policy.TemporarilyReconstruct {
			rec.Latency = policy.LatencySingleRound
		}
	}

	h.writeJSON(w, http.StatusOK, RecommendationResponse{
		Method:  string(rec.Method),
		UseCase: string(rec.UseCase),
		Reason:  rec.Reason,
		Latency: string(rec.Latency),
	})
}

// CreateScheduleRequest registers a user for periodic key rotation.
type CreateScheduleRequest struct {
	UserID       string `json:"user_id"`
	IntervalDays int    `json:"interval_days,omitempty"`
	StartDate    int64  `json:"start_date,omitempty"`
}

// HandleCreateSchedule registers a rotation schedule.
//
// URL format: POST /api/v1/schedules
func (h *Handler) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	start := time.Now().UTC()
	if req.StartDate != 0 {
		start = time.Unix(req.StartDate, 0).UTC()
	}

	schedule, err := h.scheduler.CreateSchedule(r.Context(), req.UserID, req.IntervalDays, start)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.scheduleResponse(schedule))
}

// HandleGetSchedule returns a rotation schedule with its notification state.
//
// URL format: GET /api/v1/schedules/{schedule_id}
func (h *Handler) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.scheduler.GetSchedule(r.Context(), r.PathValue("schedule_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.scheduleResponse(schedule))
}

// HandleGetUserSchedule returns the schedule registered for a user.
//
// URL format: GET /api/v1/users/{user_id}/schedule
func (h *Handler) HandleGetUserSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.scheduler.GetScheduleByUser(r.Context(), r.PathValue("user_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.scheduleResponse(schedule))
}

// UpdateIntervalRequest changes a schedule's rotation interval.
type UpdateIntervalRequest struct {
	IntervalDays int `json:"interval_days"`
}

// HandleUpdateInterval changes the rotation interval.
//
// URL format: PUT /api/v1/schedules/{schedule_id}/interval
func (h *Handler) HandleUpdateInterval(w http.ResponseWriter, r *http.Request) {
	var req UpdateIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	schedule, err := h.scheduler.UpdateRotationInterval(r.Context(), r.PathValue("schedule_id"), req.IntervalDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.scheduleResponse(schedule))
}

// SetEnabledRequest enables or disables a schedule.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleSetEnabled enables or disables a schedule. Schedules are never
// deleted.
//
// URL format: PUT /api/v1/schedules/{schedule_id}/enabled
func (h *Handler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed request body"))
		return
	}

	schedule, err := h.scheduler.SetEnabled(r.Context(), r.PathValue("schedule_id"), req.Enabled)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.scheduleResponse(schedule))
}

// RotationReportResponse summarizes one rotation's audit trail.
type RotationReportResponse struct {
	RotationID  string   `json:"rotation_id"`
	UserID      string   `json:"user_id"`
	Status      string   `json:"status"`
	StartedAt   int64    `json:"started_at"`
	DurationSec int64    `json:"duration_seconds"`
	EntryCount  int      `json:"entry_count"`
	Warnings    []string `json:"warnings,omitempty"`
}

// HandleRotationReport returns the report for a rotation, including any
// suspicious-activity warnings.
//
// URL format: GET /api/v1/rotations/{rotation_id}/report
func (h *Handler) HandleRotationReport(w http.ResponseWriter, r *http.Request) {
	trail, err := h.auditor.GetTrail(r.Context(), r.PathValue("rotation_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	report := rotation.GenerateReport(trail)
	h.writeJSON(w, http.StatusOK, RotationReportResponse{
		RotationID:  report.RotationID,
		UserID:      report.UserID,
		Status:      string(report.Status),
		StartedAt:   report.StartedAt.Unix(),
		DurationSec: int64(report.Duration.Seconds()),
		EntryCount:  report.EntryCount,
		Warnings:    report.Warnings,
	})
}

// HandleHealthMetrics returns signing outcome counts and alert state.
//
// URL format: GET /api/v1/health/metrics
func (h *Handler) HandleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.monitor.GetMetrics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	alert, reasons, err := h.monitor.ShouldAlert(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"metrics":       metrics,
		"alert":         alert,
		"alert_reasons": reasons,
	})
}

// HandleRecentActivity returns the latest signing attempts.
//
// URL format: GET /api/v1/health/activity?limit=20
func (h *Handler) HandleRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, interfaces.E(interfaces.ErrCodeValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	activity, err := h.monitor.GetRecentActivity(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"activity": activity})
}
